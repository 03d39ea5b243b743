package handler

import (
	"errors"

	"github.com/gigmarket/identity/internal/api/metrics"
	"github.com/gigmarket/identity/internal/core/domain"
)

// record counts one auth operation under a coarse outcome label and returns
// err unchanged.
func record(operation string, err error) error {
	metrics.AuthRequestsTotal.WithLabelValues(operation, outcome(err)).Inc()
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrWeakPassword):
		return "weak_password"
	case errors.Is(err, domain.ErrPasswordMismatch):
		return "password_mismatch"
	case errors.Is(err, domain.ErrValidation):
		return "invalid_input"
	case errors.Is(err, domain.ErrUserExists):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrUserNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrResetTokenInvalid):
		return "invalid_reset"
	default:
		return "error"
	}
}
