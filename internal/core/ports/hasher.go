package ports

import "context"

// PasswordHasher is a one-way password hash. Compare returns
// domain.ErrInvalidCredentials on mismatch. Both calls may block while CPU
// budget is unavailable and honour ctx cancellation.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Compare(ctx context.Context, hash, password string) error
}
