// Package retry retries transient store failures and computes the
// exponential delays used when rescheduling failed deliveries.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ignite/fan-automation/internal/domain"
)

// Config holds retry configuration.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig is used for store calls on the request path.
var DefaultConfig = Config{
	MaxRetries:   3,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     time.Second,
}

// Store runs fn, retrying while it fails with a domain.TransientStoreError.
// Any other error is returned immediately.
func Store(ctx context.Context, cfg Config, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.2

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxRetries)), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil || domain.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// Value is Store for functions that return a result.
func Value[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var out T
	err := Store(ctx, cfg, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Delay returns base·2^(attempt-1), capped at max. attempt starts at 1.
func Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Value2 is Store for functions that return two results.
func Value2[A, B any](ctx context.Context, cfg Config, fn func() (A, B, error)) (A, B, error) {
	var (
		a A
		b B
	)
	err := Store(ctx, cfg, func() error {
		va, vb, err := fn()
		if err != nil {
			return err
		}
		a, b = va, vb
		return nil
	})
	return a, b, err
}
