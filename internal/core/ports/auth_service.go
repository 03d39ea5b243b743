package ports

import (
	"context"
	"time"

	"github.com/gigmarket/identity/internal/core/domain"
)

// SignupInput carries the fields of a new account.
type SignupInput struct {
	FullName string
	Email    string
	Password string
	Role     string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      domain.Profile
}

// ChangePasswordInput carries an authenticated password change.
type ChangePasswordInput struct {
	UserID          int64
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

type AuthService interface {
	Signup(ctx context.Context, in SignupInput) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Profile(ctx context.Context, userID int64) (*domain.Profile, error)
	ChangePassword(ctx context.Context, in ChangePasswordInput) error
}

// ResetPasswordInput identifies the cycle either by Token or by a verified Email.
type ResetPasswordInput struct {
	Email           string
	Token           string
	NewPassword     string
	ConfirmPassword string
}

type ResetService interface {
	ForgotPassword(ctx context.Context, email string) error
	ResendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, otp string) error
	ResetPassword(ctx context.Context, in ResetPasswordInput) error
}

// ResetNotifier delivers a reset token and OTP to the account's address.
type ResetNotifier interface {
	Deliver(ctx context.Context, d domain.ResetDelivery) error
}
