package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/sentinel-auth/internal/domain"
	"github.com/FilipeAphrody/sentinel-auth/internal/usecase"
)

// AuthHandler represents the HTTP delivery layer for authentication.
type AuthHandler struct {
	usecase *usecase.AuthUsecase
}

// NewAuthHandler registers the authentication routes to the provided echo group.
// requireAccess guards the routes that need a full session.
func NewAuthHandler(e *echo.Group, u *usecase.AuthUsecase, requireAccess echo.MiddlewareFunc) {
	handler := &AuthHandler{usecase: u}

	e.POST("/register", handler.Register)
	e.POST("/login", handler.Login)
	e.POST("/step-up", handler.StepUp)
	e.POST("/refresh", handler.Refresh)
	e.GET("/me", handler.Me, requireAccess)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest accepts either a username or an email as identifier.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type stepUpRequest struct {
	StepUpToken string `json:"step_up_token"`
	Code        string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	Status string `json:"status"`
	*domain.AuthResponse
}

type challengeResponse struct {
	Status string `json:"status"`
	*domain.StepUpChallenge
}

// Register creates an account with MFA disabled.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	user, err := h.usecase.Register(c.Request().Context(), domain.Registration{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, user)
}

// Login handles the initial authentication request. Users with OTP enabled
// get 202 and a step-up token instead of a session.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Identifier == "" || req.Password == "" {
		return badRequest(c, "identifier and password are required")
	}

	res, err := h.usecase.Login(c.Request().Context(), req.Identifier, req.Password)
	if err != nil {
		return writeError(c, err)
	}

	if res.Challenge != nil {
		return c.JSON(http.StatusAccepted, challengeResponse{Status: "mfa_required", StepUpChallenge: res.Challenge})
	}
	return c.JSON(http.StatusOK, sessionResponse{Status: "success", AuthResponse: res.Session})
}

// StepUp handles the second step of authentication for users with OTP enabled.
func (h *AuthHandler) StepUp(c echo.Context) error {
	var req stepUpRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.StepUpToken == "" {
		return unauthorized(c, "missing step-up token")
	}

	session, err := h.usecase.StepUp(c.Request().Context(), req.StepUpToken, req.Code)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sessionResponse{Status: "success", AuthResponse: session})
}

// Refresh exchanges a refresh token for a new token pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.RefreshToken == "" {
		return unauthorized(c, "missing refresh token")
	}

	session, err := h.usecase.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sessionResponse{Status: "success", AuthResponse: session})
}

// Me returns the authenticated user's record.
func (h *AuthHandler) Me(c echo.Context) error {
	user, err := h.usecase.CurrentUser(c.Request().Context(), subject(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}
