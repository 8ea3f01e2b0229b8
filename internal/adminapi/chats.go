package adminapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wirelabco/wagate/internal/app"
	"github.com/wirelabco/wagate/internal/webserver"
)

type chatTogglePayload struct {
	Jid   string `json:"jid" validate:"required"`
	State *bool  `json:"state" validate:"required"`
}

type chatMutePayload struct {
	Jid string `json:"jid" validate:"required"`
	// mute=false unmutes; mute=true with zero duration mutes indefinitely
	Mute            bool  `json:"mute"`
	DurationSeconds int64 `json:"duration_seconds" validate:"omitempty,min=0"`
}

type chatDisappearingPayload struct {
	Jid             string `json:"jid" validate:"required"`
	DurationSeconds int64  `json:"duration_seconds" validate:"min=0"`
}

type chatClearPayload struct {
	Jid string   `json:"jid" validate:"required"`
	Ids []string `json:"ids"`
}

type chatJidPayload struct {
	Jid string `json:"jid" validate:"required"`
}

type messageIdsPayload struct {
	Jid string   `json:"jid" validate:"required"`
	Ids []string `json:"ids" validate:"required,min=1"`
}

type messageStarPayload struct {
	Jid     string   `json:"jid" validate:"required"`
	Ids     []string `json:"ids" validate:"required,min=1"`
	Starred bool     `json:"starred"`
}

func registerChatRoutes() {
	webserver.ApiPOST("/sessions/:name/chat/archive", archiveChat)
	webserver.ApiPOST("/sessions/:name/chat/pin", pinChat)
	webserver.ApiPOST("/sessions/:name/chat/mute", muteChat)
	webserver.ApiPOST("/sessions/:name/chat/markread", markChatRead)
	webserver.ApiPOST("/sessions/:name/chat/disappearing", setChatDisappearing)
	webserver.ApiPOST("/sessions/:name/chat/clear", clearChat)
	webserver.ApiPOST("/sessions/:name/chat/delete", deleteChat)
	webserver.ApiPOST("/sessions/:name/messages/read", readMessages)
	webserver.ApiPOST("/sessions/:name/messages/star", starMessages)
}

func bindToggle(c echo.Context) (*chatTogglePayload, error) {
	var payload chatTogglePayload
	if err := c.Bind(&payload); err != nil {
		return nil, fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse chat parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return nil, handleValidationError(c, err)
	}
	return &payload, nil
}

func archiveChat(c echo.Context) error {
	payload, err := bindToggle(c)
	if payload == nil {
		return err
	}
	if err := app.GApp().Dispatcher().Archive(c.Request().Context(), c.Param("name"), payload.Jid, *payload.State); err != nil {
		return failDomain(c, err)
	}
	return ok(c, map[string]interface{}{"jid": payload.Jid, "archived": *payload.State})
}

func pinChat(c echo.Context) error {
	payload, err := bindToggle(c)
	if payload == nil {
		return err
	}
	if err := app.GApp().Dispatcher().Pin(c.Request().Context(), c.Param("name"), payload.Jid, *payload.State); err != nil {
		return failDomain(c, err)
	}
	return ok(c, map[string]interface{}{"jid": payload.Jid, "pinned": *payload.State})
}

func muteChat(c echo.Context) error {
	var payload chatMutePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse chat parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	duration := time.Duration(payload.DurationSeconds) * time.Second
	if err := app.GApp().Dispatcher().Mute(c.Request().Context(), c.Param("name"), payload.Jid, payload.Mute, duration); err != nil {
		return failDomain(c, err)
	}
	return ok(c, map[string]interface{}{"jid": payload.Jid, "muted": payload.Mute})
}

func markChatRead(c echo.Context) error {
	payload, err := bindToggle(c)
	if payload == nil {
		return err
	}
	if err := app.GApp().Dispatcher().MarkChatRead(c.Request().Context(), c.Param("name"), payload.Jid, *payload.State); err != nil {
		return failDomain(c, err)
	}
	return ok(c, map[string]interface{}{"jid": payload.Jid, "read": *payload.State})
}

func setChatDisappearing(c echo.Context) error {
	var payload chatDisappearingPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse chat parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	duration := time.Duration(payload.DurationSeconds) * time.Second
	if err := app.GApp().Dispatcher().SetDisappearing(c.Request().Context(), c.Param("name"), payload.Jid, duration); err != nil {
		return failDomain(c, err)
	}
	return ok(c, map[string]interface{}{"jid": payload.Jid, "duration_seconds": payload.DurationSeconds})
}

func clearChat(c echo.Context) error {
	var payload chatClearPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse chat parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	if err := app.GApp().Dispatcher().ClearChat(c.Request().Context(), c.Param("name"), payload.Jid, payload.Ids); err != nil {
		return failDomain(c, err)
	}
	return ok(c, map[string]interface{}{"jid": payload.Jid, "cleared": true})
}

func deleteChat(c echo.Context) error {
	var payload chatJidPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse chat parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	if err := app.GApp().Dispatcher().DeleteChat(c.Request().Context(), c.Param("name"), payload.Jid); err != nil {
		return failDomain(c, err)
	}
	return ok(c, map[string]interface{}{"jid": payload.Jid, "deleted": true})
}

func readMessages(c echo.Context) error {
	var payload messageIdsPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse message parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	if err := app.GApp().Dispatcher().ReadMessages(c.Request().Context(), c.Param("name"), payload.Jid, payload.Ids); err != nil {
		return failDomain(c, err)
	}
	return ok(c, map[string]interface{}{"jid": payload.Jid, "count": len(payload.Ids)})
}

func starMessages(c echo.Context) error {
	var payload messageStarPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse message parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	if err := app.GApp().Dispatcher().StarMessages(c.Request().Context(), c.Param("name"), payload.Jid, payload.Ids, payload.Starred); err != nil {
		return failDomain(c, err)
	}
	return ok(c, map[string]interface{}{"jid": payload.Jid, "starred": payload.Starred, "count": len(payload.Ids)})
}
