package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/sentinel-auth/internal/usecase"
)

// Version is reported by /health.
const Version = "1.0.0"

// RegisterRoutes mounts the auth API under /auth plus the health check.
func RegisterRoutes(e *echo.Echo, u *usecase.AuthUsecase) {
	requireAccess := AccessTokenMiddleware(u)

	auth := e.Group("/auth", ClientIPMiddleware())
	NewAuthHandler(auth, u, requireAccess)
	NewMFAHandler(auth, u, requireAccess)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status":  "healthy",
			"version": Version,
			"time":    time.Now().Format(time.RFC3339),
		})
	})
}
