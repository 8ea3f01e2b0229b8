package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/wirelabco/wagate/internal/app"
	"github.com/wirelabco/wagate/internal/wasocket"
	"github.com/wirelabco/wagate/internal/webserver"
)

type privacyPayload struct {
	Setting string `json:"setting" validate:"required"`
	Value   string `json:"value" validate:"required"`
}

func registerPrivacyRoutes() {
	webserver.ApiGET("/sessions/:name/privacy", getPrivacy)
	webserver.ApiPUT("/sessions/:name/privacy", setPrivacy)
}

// getPrivacy always asks the network; settings are never cached locally.
func getPrivacy(c echo.Context) error {
	settings, err := app.GApp().Dispatcher().GetPrivacy(c.Request().Context(), c.Param("name"))
	if err != nil {
		return failDomain(c, err)
	}
	return ok(c, settings)
}

// setPrivacy pushes one setting and answers with the full snapshot fetched
// back from the network, so the caller sees what actually took effect.
func setPrivacy(c echo.Context) error {
	var payload privacyPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse privacy parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	settings, err := app.GApp().Dispatcher().SetPrivacy(
		c.Request().Context(), c.Param("name"),
		wasocket.PrivacyKey(payload.Setting), payload.Value)
	if err != nil {
		return failDomain(c, err)
	}
	return ok(c, settings)
}
