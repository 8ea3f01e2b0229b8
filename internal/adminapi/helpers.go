package adminapi

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"

	"github.com/wirelabco/wagate/internal/domain"
)

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code": "OK",
		"data": data,
	})
}

func fail(c echo.Context, status int, code, message string, detail interface{}) error {
	body := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if detail != nil {
		body["detail"] = detail
	}
	return c.JSON(status, body)
}

func paged(c echo.Context, items interface{}, total int64, page, pageSize int) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code":      "OK",
		"data":      items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func parsePagination(c echo.Context) (page, pageSize int) {
	page = cast.ToInt(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize = cast.ToInt(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return page, pageSize
}

func handleValidationError(c echo.Context, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", fields)
	}
	return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", err.Error())
}

// failDomain translates a service error into the API error contract.
func failDomain(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, domain.ErrAlreadyExists):
		return fail(c, http.StatusConflict, "ALREADY_EXISTS", "Resource already exists", nil)
	case errors.Is(err, domain.ErrNotConnected):
		return fail(c, http.StatusConflict, "NOT_CONNECTED", "Session is not connected", nil)
	case errors.Is(err, domain.ErrInvalidState):
		return fail(c, http.StatusBadRequest, "INVALID_STATE", "Operation not valid in the current state", err.Error())
	case errors.Is(err, domain.ErrTimeout):
		return fail(c, http.StatusGatewayTimeout, "COMMAND_TIMEOUT", "Upstream did not answer in time", nil)
	case errors.Is(err, domain.ErrUpstreamRejected):
		return fail(c, http.StatusBadGateway, "UPSTREAM_REJECTED", "Upstream rejected the operation", err.Error())
	default:
		return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error", err.Error())
	}
}

// Init registers all admin API routes. Called once after webserver.Init.
func Init() {
	registerSessionRoutes()
	registerChatRoutes()
	registerPrivacyRoutes()
	registerWebhookRoutes()
}
