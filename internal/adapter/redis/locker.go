// Package redis implements the distributed lock port on Redis using bsm/redislock.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/cenkalti/backoff/v5"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/config"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/lock"
)

const keyPrefix = "crmledger:lock:"

var _ lock.Locker = (*Locker)(nil)

// Connect opens a client and waits for Redis to answer PING, retrying with
// exponential backoff until ctx ends or maxWait passes.
func Connect(ctx context.Context, cfg config.Redis, maxWait time.Duration) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis not ready", "addr", cfg.Addr, "attempt", attempt, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(maxWait))
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connect %s: %w", cfg.Addr, err)
	}
	slog.Info("redis connected", "addr", cfg.Addr)
	return rdb, nil
}

// Locker obtains locks shared by every instance using the same Redis.
type Locker struct {
	client *redislock.Client
}

// NewLocker wraps a Redis client.
func NewLocker(rdb goredis.UniversalClient) *Locker {
	return &Locker{client: redislock.New(rdb)}
}

// Obtain takes key for ttl without waiting; a held key yields lock.ErrNotObtained.
func (l *Locker) Obtain(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	lk, err := l.client.Obtain(ctx, keyPrefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, lock.ErrNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return &redisLock{lk: lk}, nil
}

type redisLock struct {
	lk *redislock.Lock
}

// Release gives the lock back. A lock that already expired is not an error.
func (r *redisLock) Release(ctx context.Context) error {
	err := r.lk.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}
