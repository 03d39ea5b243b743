package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("access forbidden")
	ErrWeakPassword       = errors.New("password does not meet the strength requirements")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrResetTokenInvalid  = errors.New("invalid or expired reset token")
	ErrRateLimited        = errors.New("too many attempts")
)

// ValidationError carries a caller-facing message for malformed input.
type ValidationError struct {
	Message string
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PolicyError lists the password rules a candidate failed.
type PolicyError struct {
	Failed []string
}

func (e *PolicyError) Error() string {
	return ErrWeakPassword.Error() + ": " + strings.Join(e.Failed, ", ")
}

func (e *PolicyError) Is(target error) bool { return target == ErrWeakPassword }

// RateLimitError is returned when an endpoint class budget is exhausted.
type RateLimitError struct {
	Class      EndpointClass
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s, retry after %s", ErrRateLimited, e.Class, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
