package metrics

import (
	"context"
	"time"

	"github.com/gigmarket/identity/internal/core/ports"
)

type timedHasher struct {
	next ports.PasswordHasher
}

// TimedHasher records HashDuration around every call to next.
func TimedHasher(next ports.PasswordHasher) ports.PasswordHasher {
	return timedHasher{next: next}
}

func (h timedHasher) Hash(ctx context.Context, password string) (string, error) {
	start := time.Now()
	defer func() { HashDuration.WithLabelValues("hash").Observe(time.Since(start).Seconds()) }()
	return h.next.Hash(ctx, password)
}

func (h timedHasher) Compare(ctx context.Context, hash, password string) error {
	start := time.Now()
	defer func() { HashDuration.WithLabelValues("compare").Observe(time.Since(start).Seconds()) }()
	return h.next.Compare(ctx, hash, password)
}
