package handler

import (
	"time"

	"github.com/gigmarket/identity/internal/core/domain"
)

type signupRequest struct {
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=client freelancer"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

// resetPasswordRequest names the cycle either by link token or by the email
// whose OTP was verified.
type resetPasswordRequest struct {
	Email           string `json:"email" validate:"required_without=Token,omitempty,email"`
	Token           string `json:"token"`
	NewPassword     string `json:"newPassword" validate:"required"`
	ConfirmPassword string `json:"confirmPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
	ConfirmPassword string `json:"confirmPassword"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type verifyOTPResponse struct {
	Message string `json:"message"`
	Email   string `json:"email"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      domain.Profile `json:"user"`
}

type overviewResponse struct {
	Dashboard string      `json:"dashboard"`
	UserID    int64       `json:"user_id"`
	Role      domain.Role `json:"role"`
}
