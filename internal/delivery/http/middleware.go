package http

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/FilipeAphrody/sentinel-auth/internal/domain"
	"github.com/FilipeAphrody/sentinel-auth/internal/usecase"
)

const userIDKey = "user_id"

// AccessTokenMiddleware validates the bearer token in the Authorization header
// as an access token and stores its subject under "user_id".
func AccessTokenMiddleware(u *usecase.AuthUsecase) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return unauthorized(c, "missing authorization header")
			}

			// Expected format: "Bearer <token>"
			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return unauthorized(c, "invalid authorization format")
			}

			claims, err := u.Authenticate(c.Request().Context(), parts[1])
			if err != nil {
				return writeError(c, err)
			}

			c.Set(userIDKey, claims.Subject)
			return next(c)
		}
	}
}

func subject(c echo.Context) string {
	sub, _ := c.Get(userIDKey).(string)
	return sub
}

// ClientIPMiddleware copies the caller's address into the request context
// so audit events can record it.
func ClientIPMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(domain.WithClientIP(req.Context(), c.RealIP())))
			return next(c)
		}
	}
}

// RequestLogger writes one structured access-log line per request.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			switch {
			case v.Status >= 500:
				level = slog.LevelError
			case v.Status >= 400:
				level = slog.LevelWarn
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
				slog.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("err", v.Error.Error()))
			}
			logger.LogAttrs(context.Background(), level, "request", attrs...)
			return nil
		},
	})
}
