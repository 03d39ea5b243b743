// Package ratelimit holds the process-local attempt limiter. It suits a
// single instance; deployments with several replicas use the Redis limiter
// so every instance shares one budget.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gigmarket/identity/internal/core/domain"
)

// Memory is a sliding-window-log limiter: each bucket keeps the timestamps
// of the attempts still inside the window.
type Memory struct {
	mu       sync.Mutex
	policies map[domain.EndpointClass]domain.RatePolicy
	buckets  map[string][]time.Time
	now      func() time.Time
}

func NewMemory(policies map[domain.EndpointClass]domain.RatePolicy) *Memory {
	if policies == nil {
		policies = domain.DefaultRatePolicies
	}
	return &Memory{
		policies: policies,
		buckets:  make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow records an attempt and reports whether it fits in the class budget.
// Denied attempts are not recorded, so a client that keeps hammering is
// admitted again as soon as its oldest counted attempt leaves the window.
func (m *Memory) Allow(_ context.Context, key string, class domain.EndpointClass) (domain.RateDecision, error) {
	policy, ok := m.policies[class]
	if !ok {
		return domain.RateDecision{}, fmt.Errorf("rate limit: unknown endpoint class %q", class)
	}

	now := m.now()
	bucketKey := string(class) + ":" + key

	m.mu.Lock()
	defer m.mu.Unlock()

	hits := prune(m.buckets[bucketKey], now.Add(-policy.Window))
	if len(hits) >= policy.Limit {
		m.buckets[bucketKey] = hits
		return domain.RateDecision{
			Allowed:    false,
			RetryAfter: hits[0].Add(policy.Window).Sub(now),
		}, nil
	}

	hits = append(hits, now)
	m.buckets[bucketKey] = hits
	return domain.RateDecision{Allowed: true, Remaining: policy.Limit - len(hits)}, nil
}

// prune drops timestamps at or before cutoff; hits is sorted ascending.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// Sweep removes buckets whose attempts have all left their window.
func (m *Memory) Sweep() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	longest := time.Duration(0)
	for _, p := range m.policies {
		if p.Window > longest {
			longest = p.Window
		}
	}
	for k, hits := range m.buckets {
		if len(hits) == 0 || !hits[len(hits)-1].After(now.Add(-longest)) {
			delete(m.buckets, k)
		}
	}
}

// Run sweeps idle buckets every interval until ctx is cancelled.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
