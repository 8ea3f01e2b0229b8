package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/wirelabco/wagate/internal/app"
	"github.com/wirelabco/wagate/internal/domain"
	"github.com/wirelabco/wagate/internal/webserver"
)

type webhookPayload struct {
	URL     string   `json:"url" validate:"required,url"`
	Enabled bool     `json:"enabled"`
	Events  []string `json:"events"`
	Secret  string   `json:"secret" validate:"omitempty,min=8,max=200"`
}

func registerWebhookRoutes() {
	webserver.ApiGET("/sessions/:name/webhook", getWebhook)
	webserver.ApiPUT("/sessions/:name/webhook", setWebhook)
	webserver.ApiDELETE("/sessions/:name/webhook", deleteWebhook)
}

func getWebhook(c echo.Context) error {
	cfg, err := app.GApp().Fanout().GetWebhook(c.Request().Context(), c.Param("name"))
	if err != nil {
		return failDomain(c, err)
	}
	return ok(c, cfg)
}

func setWebhook(c echo.Context) error {
	name := c.Param("name")
	if _, err := app.GApp().Registry().Get(c.Request().Context(), name); err != nil {
		return failDomain(c, err)
	}

	var payload webhookPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse webhook parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	cfg := domain.WebhookConfig{
		Session: name,
		URL:     payload.URL,
		Enabled: payload.Enabled,
		Events:  strings.Join(payload.Events, ","),
		Secret:  payload.Secret,
	}
	if err := app.GApp().Fanout().SetWebhook(c.Request().Context(), &cfg); err != nil {
		return failDomain(c, err)
	}
	zap.L().Info("adminapi: webhook configured",
		zap.String("session", name), zap.Bool("enabled", cfg.Enabled))
	return ok(c, cfg)
}

func deleteWebhook(c echo.Context) error {
	name := c.Param("name")
	if err := app.GApp().Fanout().DeleteWebhook(c.Request().Context(), name); err != nil {
		return failDomain(c, err)
	}
	return ok(c, map[string]interface{}{"session": name})
}
