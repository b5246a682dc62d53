package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/sentinel-auth/internal/domain"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindAuthentication, domain.KindMFA:
		return http.StatusUnauthorized
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates a classified error into its status and public message.
// Internal detail stays in the logs.
func writeError(c echo.Context, err error) error {
	kind := domain.KindOf(err)
	return c.JSON(statusFor(kind), errorResponse{
		Error:   kind.String(),
		Message: domain.PublicMessage(err),
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{
		Error:   domain.KindValidation.String(),
		Message: msg,
	})
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, errorResponse{
		Error:   domain.KindAuthentication.String(),
		Message: msg,
	})
}
