package ports

import (
	"context"
	"time"

	"github.com/gigmarket/identity/internal/core/domain"
)

// CredentialStore persists user records. Callers normalise emails and hash
// passwords and reset secrets before any call; the store never sees plaintext.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id int64) (*domain.User, error)

	// Create inserts user and assigns its ID. The uniqueness check and the
	// insert are a single atomic step; a taken email yields domain.ErrUserExists.
	Create(ctx context.Context, user *domain.User) (*domain.User, error)

	// SaveResetToken replaces any reset cycle stored for email.
	SaveResetToken(ctx context.Context, email string, secret domain.ResetSecret) error

	// MarkResetVerified stamps the cycle as verified if otpHash still matches
	// an unexpired cycle, otherwise it returns domain.ErrResetTokenInvalid.
	MarkResetVerified(ctx context.Context, email, otpHash string, now time.Time) error

	// FindByResetToken returns domain.ErrUserNotFound for unknown and for
	// expired tokens alike. Expiry is judged against now.
	FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error)

	// UpdatePassword writes newHash and clears the reset cycle in one operation.
	UpdatePassword(ctx context.Context, id int64, newHash string) error

	// ConsumeReset behaves like UpdatePassword but only applies while the
	// stored cycle still carries tokenHash and is unexpired at now.
	ConsumeReset(ctx context.Context, id int64, tokenHash, newHash string, now time.Time) error
}
