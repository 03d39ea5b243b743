package ports

import (
	"time"

	"github.com/gigmarket/identity/internal/core/domain"
)

type TokenIssuer interface {
	Issue(userID int64, role domain.Role) (token string, expiresAt time.Time, err error)
}

// TokenVerifier reports every failure as domain.ErrUnauthorized.
type TokenVerifier interface {
	Verify(token string) (domain.Claims, error)
}
