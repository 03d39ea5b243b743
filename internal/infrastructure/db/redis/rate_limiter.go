package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gigmarket/identity/internal/core/domain"
)

const keyPrefix = "ratelimit"

// RateLimiter is a fixed-window attempt counter shared by every instance
// pointing at the same Redis.
// Key format: ratelimit:<class>:<client key>
type RateLimiter struct {
	client   redis.UniversalClient
	policies map[domain.EndpointClass]domain.RatePolicy
}

// NewRateLimiter creates a RateLimiter wrapping the given Redis client.
func NewRateLimiter(client redis.UniversalClient, policies map[domain.EndpointClass]domain.RatePolicy) *RateLimiter {
	if policies == nil {
		policies = domain.DefaultRatePolicies
	}
	return &RateLimiter{client: client, policies: policies}
}

// Allow counts the attempt and denies it once the window budget is spent.
// The window starts at the first attempt and lasts policy.Window.
func (l *RateLimiter) Allow(ctx context.Context, key string, class domain.EndpointClass) (domain.RateDecision, error) {
	policy, ok := l.policies[class]
	if !ok {
		return domain.RateDecision{}, fmt.Errorf("rate limit: unknown endpoint class %q", class)
	}
	k := l.key(class, key)

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, k, policy.Window).Err(); err != nil {
			return domain.RateDecision{}, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	if count <= int64(policy.Limit) {
		return domain.RateDecision{Allowed: true, Remaining: policy.Limit - int(count)}, nil
	}

	ttl, err := l.client.PTTL(ctx, k).Result()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("rate limit ttl: %w", err)
	}
	if ttl < 0 {
		// the expiry was lost (e.g. a crash between INCR and PEXPIRE); restart the window
		if err := l.client.PExpire(ctx, k, policy.Window).Err(); err != nil {
			return domain.RateDecision{}, fmt.Errorf("rate limit expire: %w", err)
		}
		ttl = policy.Window
	}
	return domain.RateDecision{Allowed: false, RetryAfter: ttl}, nil
}

func (l *RateLimiter) key(class domain.EndpointClass, key string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, class, key)
}

