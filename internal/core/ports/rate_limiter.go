package ports

import (
	"context"

	"github.com/gigmarket/identity/internal/core/domain"
)

// RateLimiter counts an attempt for key within class and decides whether it
// may proceed. Implementations may be process-local or shared.
type RateLimiter interface {
	Allow(ctx context.Context, key string, class domain.EndpointClass) (domain.RateDecision, error)
}
