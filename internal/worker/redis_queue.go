package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueKey is the sorted set scheduled actions are queued in.
const DefaultQueueKey = "fan:actions:due"

// popDueScript removes and returns due members in one round trip, so two
// processes never pop the same id.
var popDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #ids > 0 then
	redis.call('ZREM', KEYS[1], unpack(ids))
end
return ids
`)

// RedisQueue is a DueQueue on a Redis sorted set scored by due time in
// milliseconds. It lets several worker processes share one queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue on key, or DefaultQueueKey when key is empty.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Push(ctx context.Context, actionID string, due time.Time) error {
	if err := q.client.ZAdd(ctx, q.key, redis.Z{Score: float64(due.UnixMilli()), Member: actionID}).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", actionID, err)
	}
	return nil
}

func (q *RedisQueue) PopDue(ctx context.Context, now time.Time, max int) ([]string, error) {
	if max <= 0 {
		max = 100
	}
	ids, err := popDueScript.Run(ctx, q.client, []string{q.key}, now.UnixMilli(), max).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pop due actions: %w", err)
	}
	return ids, nil
}

func (q *RedisQueue) Next(ctx context.Context) (time.Time, bool, error) {
	zs, err := q.client.ZRangeWithScores(ctx, q.key, 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("peek due queue: %w", err)
	}
	if len(zs) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(zs[0].Score)).UTC(), true, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("due queue length: %w", err)
	}
	return int(n), nil
}
