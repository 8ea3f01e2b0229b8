package webserver

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/wirelabco/wagate/internal/app"
)

var server *WebServer

type WebServer struct {
	root *echo.Echo
	api  *echo.Group
}

type webValidator struct {
	validate *validator.Validate
}

func (v *webValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// Init builds the echo engine and the authenticated /api group. Must run
// after app.Init so the API key is available.
func Init() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &webValidator{validate: validator.New()}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("webserver: request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	api := e.Group("/api")
	api.Use(apiKeyMiddleware)

	server = &WebServer{root: e, api: api}
}

// apiKeyMiddleware accepts the shared secret in X-API-Key or as a bearer
// token. Comparison is constant-time.
func apiKeyMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret := app.GApp().Config().Web.Secret
		key := c.Request().Header.Get("X-API-Key")
		if key == "" {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			key = strings.TrimPrefix(auth, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(secret)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"code":    "UNAUTHORIZED",
				"message": "Invalid or missing API key",
			})
		}
		return next(c)
	}
}

// Listen serves until the listener fails or the engine is shut down.
func Listen() error {
	cfg := app.GApp().Config().Web
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	zap.S().Infof("web server listening on %s", addr)
	return server.root.Start(addr)
}

// Engine exposes the echo instance for tests and graceful shutdown.
func Engine() *echo.Echo {
	return server.root
}

func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

func ApiPUT(path string, h echo.HandlerFunc) {
	server.api.PUT(path, h)
}

func ApiDELETE(path string, h echo.HandlerFunc) {
	server.api.DELETE(path, h)
}
