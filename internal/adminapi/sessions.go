package adminapi

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/wirelabco/wagate/internal/app"
	"github.com/wirelabco/wagate/internal/domain"
	"github.com/wirelabco/wagate/internal/pairing"
	"github.com/wirelabco/wagate/internal/webserver"
)

type sessionPayload struct {
	Name        string `json:"name" validate:"required,min=1,max=100,excludesall=0x20/"`
	AutoConnect bool   `json:"auto_connect"`
}

type pairPhonePayload struct {
	Phone string `json:"phone" validate:"required,min=5,max=20"`
}

func registerSessionRoutes() {
	webserver.ApiGET("/sessions", listSessions)
	webserver.ApiPOST("/sessions", createSession)
	webserver.ApiGET("/sessions/:name", getSession)
	webserver.ApiDELETE("/sessions/:name", deleteSession)
	webserver.ApiGET("/sessions/:name/status", getSessionStatus)
	webserver.ApiPOST("/sessions/:name/connect", connectSession)
	webserver.ApiPOST("/sessions/:name/disconnect", disconnectSession)
	webserver.ApiPOST("/sessions/:name/restart", restartSession)
	webserver.ApiPOST("/sessions/:name/logout", logoutSession)
	webserver.ApiGET("/sessions/:name/qr", getSessionQR)
	webserver.ApiPOST("/sessions/:name/pairphone", pairSessionPhone)
}

func listSessions(c echo.Context) error {
	sessions, err := app.GApp().Registry().List(c.Request().Context())
	if err != nil {
		return failDomain(c, err)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Name < sessions[j].Name })

	page, pageSize := parsePagination(c)
	start, end := pageBounds(len(sessions), page, pageSize)
	return paged(c, sessions[start:end], int64(len(sessions)), page, pageSize)
}

// pageBounds clamps a page window to the slice it indexes.
func pageBounds(total, page, pageSize int) (start, end int) {
	start = (page - 1) * pageSize
	if start > total {
		start = total
	}
	end = start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

func createSession(c echo.Context) error {
	var payload sessionPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse session parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	sess := domain.Session{
		Name:        strings.TrimSpace(payload.Name),
		AutoConnect: payload.AutoConnect,
	}
	if err := app.GApp().Registry().Create(c.Request().Context(), &sess); err != nil {
		return failDomain(c, err)
	}
	zap.L().Info("adminapi: session created", zap.String("session", sess.Name))
	return ok(c, sess)
}

func getSession(c echo.Context) error {
	sess, err := app.GApp().Registry().Get(c.Request().Context(), c.Param("name"))
	if err != nil {
		return failDomain(c, err)
	}
	return ok(c, sess)
}

func deleteSession(c echo.Context) error {
	name := c.Param("name")
	if err := app.GApp().Registry().Delete(c.Request().Context(), name); err != nil {
		return failDomain(c, err)
	}
	if err := app.GApp().Fanout().DeleteWebhook(c.Request().Context(), name); err != nil && !errors.Is(err, domain.ErrNotFound) {
		zap.L().Warn("adminapi: webhook cleanup failed", zap.String("session", name), zap.Error(err))
	}
	app.GApp().Fanout().RemoveSession(name)
	zap.L().Info("adminapi: session deleted", zap.String("session", name))
	return ok(c, map[string]interface{}{"name": name})
}

func getSessionStatus(c echo.Context) error {
	name := c.Param("name")
	status, err := app.GApp().Registry().Status(name)
	if err != nil {
		return failDomain(c, err)
	}
	return ok(c, map[string]interface{}{"name": name, "status": status})
}

func connectSession(c echo.Context) error {
	name := c.Param("name")
	err := app.GApp().Registry().Connect(c.Request().Context(), name)
	if errors.Is(err, domain.ErrAlreadyConnecting) {
		// connecting twice is a no-op, report the current state
		status, _ := app.GApp().Registry().Status(name)
		return ok(c, map[string]interface{}{"name": name, "status": status})
	}
	if err != nil {
		return failDomain(c, err)
	}
	status, _ := app.GApp().Registry().Status(name)
	return ok(c, map[string]interface{}{"name": name, "status": status})
}

func disconnectSession(c echo.Context) error {
	name := c.Param("name")
	if err := app.GApp().Registry().Disconnect(c.Request().Context(), name); err != nil {
		return failDomain(c, err)
	}
	return ok(c, map[string]interface{}{"name": name, "status": domain.SessionDisconnected})
}

func restartSession(c echo.Context) error {
	name := c.Param("name")
	if err := app.GApp().Registry().Restart(c.Request().Context(), name); err != nil {
		return failDomain(c, err)
	}
	status, _ := app.GApp().Registry().Status(name)
	return ok(c, map[string]interface{}{"name": name, "status": status})
}

func logoutSession(c echo.Context) error {
	name := c.Param("name")
	if err := app.GApp().Registry().Logout(c.Request().Context(), name); err != nil {
		return failDomain(c, err)
	}
	zap.L().Info("adminapi: session logged out", zap.String("session", name))
	return ok(c, map[string]interface{}{"name": name, "status": domain.SessionDisconnected})
}

// getSessionQR returns the most recent QR code while pairing is underway,
// alongside the live session status. The frontend renders the QR string
// client-side and polls for rotation.
func getSessionQR(c echo.Context) error {
	name := c.Param("name")
	state, pending, err := app.GApp().Pairing().GetQR(name)
	if err != nil {
		return failDomain(c, err)
	}
	status, _ := app.GApp().Registry().Status(name)
	return ok(c, qrResponse(state, pending, status))
}

// qrResponse shapes the QR endpoint body; status rides along in both the
// pending and the code-bearing form so pollers track the state machine.
func qrResponse(state pairing.State, pending bool, status string) map[string]interface{} {
	if pending {
		return map[string]interface{}{"pending": true, "status": status}
	}
	return map[string]interface{}{
		"qr":            state.QR,
		"qr_issued_at":  state.QRIssuedAt,
		"qr_expires_at": state.QRExpiresAt,
		"status":        status,
	}
}

func pairSessionPhone(c echo.Context) error {
	var payload pairPhonePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse pairing parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	state, err := app.GApp().Pairing().RequestPairingCode(c.Request().Context(), c.Param("name"), payload.Phone)
	if err != nil {
		return failDomain(c, err)
	}
	return ok(c, state)
}
