package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fan-automation/internal/domain"
)

func newLimiter(t *testing.T, at time.Time) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rl := NewRateLimiter(client)
	rl.now = func() time.Time { return at }
	return rl, mr
}

func TestRateLimiter_PerSecond(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	rl, _ := newLimiter(t, at)
	ctx := context.Background()
	limit := RateLimit{PerSecond: 2}

	for i := 0; i < 2; i++ {
		ok, _, err := rl.CheckAndIncrement(ctx, "ses", limit)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, wait, err := rl.CheckAndIncrement(ctx, "ses", limit)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	// other channels have their own quota
	ok, _, err = rl.CheckAndIncrement(ctx, "log", limit)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiter_DeniedSendDoesNotConsumeQuota(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	rl, mr := newLimiter(t, at)
	ctx := context.Background()
	limit := RateLimit{PerMinute: 1, Daily: 100}

	ok, _, err := rl.CheckAndIncrement(ctx, "ses", limit)
	require.NoError(t, err)
	require.True(t, ok)

	ok, wait, err := rl.CheckAndIncrement(ctx, "ses", limit)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)

	day, err := mr.Get("ratelimit:ses:day:2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, "1", day)
}

func TestRateLimiter_DailyWaitsUntilMidnight(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	rl, _ := newLimiter(t, at)
	ctx := context.Background()

	_, _, err := rl.CheckAndIncrement(ctx, "ses", RateLimit{Daily: 1})
	require.NoError(t, err)
	ok, wait, err := rl.CheckAndIncrement(ctx, "ses", RateLimit{Daily: 1})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Hour, wait)
}

func TestThrottled(t *testing.T) {
	rl, _ := newLimiter(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	var sent int
	next := DelivererFunc(func(context.Context, string, string, map[string]string) error {
		sent++
		return nil
	})
	d := NewThrottled(next, rl, "ses", RateLimit{PerSecond: 1})
	ctx := context.Background()

	require.NoError(t, d.Send(ctx, "fan@example.com", "listen_followup", nil))
	err := d.Send(ctx, "fan@example.com", "listen_followup", nil)

	var limited *domain.RateLimitedError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, "ses", limited.Channel)
	assert.Equal(t, time.Second, limited.Wait)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, sent)
}

func TestThrottled_LimiterErrorFailsClosed(t *testing.T) {
	rl, mr := newLimiter(t, time.Now())
	mr.Close()
	var sent int
	next := DelivererFunc(func(context.Context, string, string, map[string]string) error {
		sent++
		return nil
	})
	err := NewThrottled(next, rl, "ses", RateLimit{PerSecond: 10}).Send(context.Background(), "r", "a", nil)
	var df *domain.DeliveryFailure
	assert.True(t, errors.As(err, &df))
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Zero(t, sent)
}
