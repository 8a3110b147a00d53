package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/pkg/logger"
)

// ErrRateLimited matches the *domain.RateLimitedError returned while a
// channel is over its send quota.
var ErrRateLimited = domain.ErrRateLimited

// RateLimit caps sends per channel. Zero disables a window.
type RateLimit struct {
	PerSecond int
	PerMinute int
	Daily     int
}

// Enabled reports whether any window is capped.
func (l RateLimit) Enabled() bool {
	return l.PerSecond > 0 || l.PerMinute > 0 || l.Daily > 0
}

// multiLimitLuaScript checks all windows before incrementing any of them, so
// a denied send never consumes quota.
const multiLimitLuaScript = `
local increment = tonumber(ARGV[1])
for i = 1, 3 do
    local limit = tonumber(ARGV[1 + i])
    if limit > 0 then
        local current = tonumber(redis.call("GET", KEYS[i]) or "0")
        if current + increment > limit then
            return {0, i, current}
        end
    end
end
for i = 1, 3 do
    local v = redis.call("INCRBY", KEYS[i], increment)
    if v == increment then
        redis.call("EXPIRE", KEYS[i], tonumber(ARGV[4 + i]))
    end
end
return {1, 0, 0}
`

// RateLimiter provides atomic, fleet-wide send limits using a Redis Lua script.
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRateLimiter creates a rate limiter with the pre-compiled Lua script.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{redis: client, script: redis.NewScript(multiLimitLuaScript), now: time.Now}
}

// CheckAndIncrement takes one send from channel's quota. When denied it
// returns how long to wait before the window resets.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, channel string, limit RateLimit) (bool, time.Duration, error) {
	now := r.now().UTC()
	keys := []string{
		fmt.Sprintf("ratelimit:%s:sec:%d", channel, now.Unix()),
		fmt.Sprintf("ratelimit:%s:min:%d", channel, now.Unix()/60),
		fmt.Sprintf("ratelimit:%s:day:%s", channel, now.Format("2006-01-02")),
	}
	res, err := r.script.Run(ctx, r.redis, keys,
		1, limit.PerSecond, limit.PerMinute, limit.Daily,
		2, 120, 90000,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check: %w", err)
	}
	if len(res) < 2 {
		return false, 0, fmt.Errorf("rate limit check: unexpected reply %v", res)
	}
	if allowed, _ := res[0].(int64); allowed == 1 {
		return true, 0, nil
	}

	switch reason, _ := res[1].(int64); reason {
	case 1:
		return false, time.Second, nil
	case 2:
		return false, time.Duration(60-now.Second()) * time.Second, nil
	default:
		midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		return false, midnight.Sub(now), nil
	}
}

// Throttled wraps a Deliverer with a per-channel send quota.
type Throttled struct {
	next    Deliverer
	limiter *RateLimiter
	channel string
	limit   RateLimit
}

// NewThrottled returns next guarded by limit on channel.
func NewThrottled(next Deliverer, limiter *RateLimiter, channel string, limit RateLimit) *Throttled {
	return &Throttled{next: next, limiter: limiter, channel: channel, limit: limit}
}

// Send delivers unless the channel is over quota. An over-quota send returns
// a *domain.RateLimitedError and never reaches next. A limiter error fails
// the attempt rather than sending unmetered.
func (t *Throttled) Send(ctx context.Context, recipientID, actionType string, payload map[string]string) error {
	ok, wait, err := t.limiter.CheckAndIncrement(ctx, t.channel, t.limit)
	if err != nil {
		return &domain.DeliveryFailure{Provider: t.channel, Err: err}
	}
	if !ok {
		logger.Warn("delivery: rate limited", "channel", t.channel, "action_type", actionType, "wait", wait.String())
		return &domain.RateLimitedError{Channel: t.channel, Wait: wait}
	}
	return t.next.Send(ctx, recipientID, actionType, payload)
}
