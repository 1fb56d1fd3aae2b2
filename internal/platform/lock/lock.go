// Package lock wraps redislock for best-effort critical sections.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Locker serialises work on a key. Implementations must be safe for concurrent use.
type Locker interface {
	// Acquire returns a release function. When the lock cannot be obtained in
	// time the returned error wraps ErrNotObtained.
	Acquire(ctx context.Context, key string) (func(), error)
}

// ErrNotObtained is returned when another holder keeps the lock.
var ErrNotObtained = errors.New("lock: not obtained")

// RedisLocker obtains locks through redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

// NewRedisLocker builds a RedisLocker. ttl bounds how long a crashed holder keeps the key.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, wait: 5 * time.Second, logger: logger}
}

// WithWait bounds how long Acquire retries before giving up.
func (l *RedisLocker) WithWait(wait time.Duration) *RedisLocker {
	if wait > 0 {
		l.wait = wait
	}
	return l
}

// Acquire obtains the lock, retrying linearly until the wait budget is spent.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	retries := int(l.wait / (100 * time.Millisecond))
	lk, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lk.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("release lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

// BestEffort runs fn under the lock when it can be obtained. Redis outages and
// contention are logged and fn still runs; the store level guards stay authoritative.
func BestEffort(ctx context.Context, locker Locker, logger *slog.Logger, key string, fn func(context.Context) error) error {
	if locker == nil {
		return fn(ctx)
	}
	release, err := locker.Acquire(ctx, key)
	if err != nil {
		if logger != nil {
			logger.Warn("proceeding without lock", slog.String("key", key), slog.Any("error", err))
		}
		return fn(ctx)
	}
	defer release()
	return fn(ctx)
}

// Noop never blocks.
type Noop struct{}

// Acquire implements Locker.
func (Noop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
