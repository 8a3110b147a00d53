package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by KeyLocker.Lock when the context ends before
// the lock could be taken.
var ErrNotAcquired = errors.New("lock not acquired")

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// KeyLocker serializes work per key. Lock blocks until the key is free or
// ctx ends, and returns a function that releases it.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// NewKeyLocker picks the best available backend: Redis when a client is
// given, PostgreSQL advisory locks when only a database is, and an
// in-process lock table otherwise.
func NewKeyLocker(redisClient *redis.Client, db *sql.DB, ttl time.Duration) KeyLocker {
	switch {
	case redisClient != nil:
		return &RedisKeyLocker{client: redisClient, ttl: ttl, retry: 20 * time.Millisecond}
	case db != nil:
		return &PGKeyLocker{db: db, retry: 20 * time.Millisecond}
	default:
		return NewLocal()
	}
}

// RedisKeyLocker implements KeyLocker with one RedisLock per acquisition.
type RedisKeyLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// Lock spins on SET NX until the key is acquired or ctx ends.
func (k *RedisKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l := NewRedisLock(k.client, key, k.ttl)
	if err := spin(ctx, k.retry, l); err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Release(ctx)
	}, nil
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// pg_try_advisory_lock / pg_advisory_unlock are session-scoped, so the lock
// pins one connection from the pool for its whole lifetime. The lock is
// automatically released if that connection drops.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	return &PGAdvisoryLock{db: db, lockID: advisoryID(key)}
}

func advisoryID(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn == nil {
		conn, err := l.db.Conn(ctx)
		if err != nil {
			return false, fmt.Errorf("advisory lock conn: %w", err)
		}
		l.conn = conn
	}
	var acquired bool
	if err := l.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		return false, err
	}
	return acquired, nil
}

// Release releases the advisory lock and returns the pinned connection.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	cerr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return err
	}
	return cerr
}

// PGKeyLocker implements KeyLocker with advisory locks.
type PGKeyLocker struct {
	db    *sql.DB
	retry time.Duration
}

func (k *PGKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l := NewPGAdvisoryLock(k.db, key)
	if err := spin(ctx, k.retry, l); err != nil {
		_ = l.Release(context.Background())
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Release(ctx)
	}, nil
}

func spin(ctx context.Context, every time.Duration, l DistLock) error {
	for {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		t := time.NewTimer(every)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
		case <-t.C:
		}
	}
}
