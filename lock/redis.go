package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisRetryInterval = 100 * time.Millisecond

// Redis is a Locker backed by Redis. TTL bounds how long a crashed holder
// can block others; Wait bounds how long Acquire retries.
type Redis struct {
	client *redis.Client
	locker *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

// NewRedis connects to addr and verifies the connection with a ping.
func NewRedis(ctx context.Context, addr string, db int, ttl, wait time.Duration, logger *zap.Logger) (*Redis, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("redis lock ttl must be positive, got %s", ttl)
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Redis{
		client: client,
		locker: redislock.New(client),
		ttl:    ttl,
		wait:   wait,
		logger: logger,
	}, nil
}

// Acquire obtains key, retrying at a fixed interval for up to the wait
// budget. While held, the lock is refreshed every ttl/2 so a unit that
// outlives the TTL keeps it; the TTL only bounds a crashed holder.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	retries := int(r.wait / redisRetryInterval)
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(redisRetryInterval), retries),
	}

	l, err := r.locker.Obtain(ctx, "lock:"+key, r.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(l, key, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's context may already be cancelled; release regardless.
			if err := l.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.Warn("Failed to release redis lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// keepAlive extends the lock until stop is closed. A failed refresh means
// the lock is gone; it is logged and refreshing ends.
func (r *Redis) keepAlive(l *redislock.Lock, key string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/2)
			err := l.Refresh(ctx, r.ttl, nil)
			cancel()
			if err != nil {
				r.logger.Error("Lost redis lock while held", zap.String("key", key), zap.Error(err))
				return
			}
		}
	}
}

// Close closes the underlying Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
