package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gigmarket/identity/internal/api/metrics"
	"github.com/gigmarket/identity/internal/core/domain"
	"github.com/gigmarket/identity/internal/core/ports"
)

// ResetHandler serves the forgot / verify / reset password flow.
type ResetHandler struct {
	resetService ports.ResetService
}

func NewResetHandler(resetService ports.ResetService) *ResetHandler {
	return &ResetHandler{resetService: resetService}
}

// ForgotPassword starts a reset cycle and mails a link and code.
//
// @Summary      Request a password reset
// @Tags         password-reset
// @Accept       json
// @Produce      json
// @Param        body  body      emailRequest  true  "Account email"
// @Success      200   {object}  messageResponse
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      429   {object}  map[string]any
// @Router       /auth/forgot-password [post]
func (h *ResetHandler) ForgotPassword(c echo.Context) error {
	return h.startCycle(c, "forgot_password", h.resetService.ForgotPassword)
}

// ResendOTP replaces the active cycle with a fresh link and code.
//
// @Summary      Resend the reset code
// @Tags         password-reset
// @Accept       json
// @Produce      json
// @Param        body  body      emailRequest  true  "Account email"
// @Success      200   {object}  messageResponse
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      429   {object}  map[string]any
// @Router       /auth/resend-otp [post]
func (h *ResetHandler) ResendOTP(c echo.Context) error {
	return h.startCycle(c, "resend_otp", h.resetService.ResendOTP)
}

func (h *ResetHandler) startCycle(c echo.Context, op string, start func(ctx context.Context, email string) error) error {
	var req emailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return record(op, err)
	}

	if err := record(op, start(c.Request().Context(), req.Email)); err != nil {
		return err
	}
	metrics.ResetCyclesTotal.WithLabelValues(op).Inc()

	return c.JSON(http.StatusOK, messageResponse{Message: "reset code sent"})
}

// VerifyOTP confirms the code from the reset mail.
//
// @Summary      Verify the reset code
// @Tags         password-reset
// @Accept       json
// @Produce      json
// @Param        body  body      verifyOTPRequest  true  "Email and 6-digit code"
// @Success      200   {object}  verifyOTPResponse
// @Failure      400   {object}  map[string]string
// @Failure      429   {object}  map[string]any
// @Router       /auth/verify-otp [post]
func (h *ResetHandler) VerifyOTP(c echo.Context) error {
	var req verifyOTPRequest
	if err := bindAndValidate(c, &req); err != nil {
		return record("verify_otp", err)
	}

	if err := record("verify_otp", h.resetService.VerifyOTP(c.Request().Context(), req.Email, req.OTP)); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, verifyOTPResponse{Message: "code verified", Email: domain.NormalizeEmail(req.Email)})
}

// ResetPassword sets a new password for a token or a verified email.
//
// @Summary      Reset password
// @Tags         password-reset
// @Accept       json
// @Produce      json
// @Param        body  body      resetPasswordRequest  true  "Token or verified email, plus the new password"
// @Success      200   {object}  messageResponse
// @Failure      400   {object}  map[string]string
// @Router       /auth/reset-password [post]
func (h *ResetHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return record("reset_password", err)
	}

	err := h.resetService.ResetPassword(c.Request().Context(), ports.ResetPasswordInput{
		Email:           req.Email,
		Token:           req.Token,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err := record("reset_password", err); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, messageResponse{Message: "password has been reset"})
}
