package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/sentinel-auth/internal/usecase"
)

// MFAHandler handles OTP enrollment and management. Every route requires
// an access token whose subject matches the user_id in the body.
type MFAHandler struct {
	usecase *usecase.AuthUsecase
}

// NewMFAHandler registers the OTP management routes.
func NewMFAHandler(e *echo.Group, u *usecase.AuthUsecase, requireAccess echo.MiddlewareFunc) {
	handler := &MFAHandler{usecase: u}

	otp := e.Group("/otp", requireAccess)
	otp.POST("/generate", handler.Generate)
	otp.POST("/confirm", handler.Confirm)
	otp.POST("/disable", handler.Disable)
}

type otpUserRequest struct {
	UserID string `json:"user_id"`
}

type otpConfirmRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// Generate provisions a fresh secret, replacing any previous one.
func (h *MFAHandler) Generate(c echo.Context) error {
	var req otpUserRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if !ownsAccount(c, req.UserID) {
		return unauthorized(c, "token subject does not match user_id")
	}

	prov, err := h.usecase.ProvisionOTP(c.Request().Context(), req.UserID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, prov)
}

// Confirm verifies the first code from the authenticator app.
func (h *MFAHandler) Confirm(c echo.Context) error {
	var req otpConfirmRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if !ownsAccount(c, req.UserID) {
		return unauthorized(c, "token subject does not match user_id")
	}

	if err := h.usecase.ConfirmOTP(c.Request().Context(), req.UserID, req.Code); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "otp_verified"})
}

// Disable turns the second factor off.
func (h *MFAHandler) Disable(c echo.Context) error {
	var req otpUserRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if !ownsAccount(c, req.UserID) {
		return unauthorized(c, "token subject does not match user_id")
	}

	if err := h.usecase.DisableOTP(c.Request().Context(), req.UserID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "otp_disabled"})
}

func ownsAccount(c echo.Context, userID string) bool {
	sub := subject(c)
	return sub != "" && sub == userID
}
