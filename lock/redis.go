// Package lock provides a Redis-backed ledger.Locker so that money-moving
// operations for one client run one at a time across server instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrBusy is returned when the lock is still held by someone else after all retries.
var ErrBusy = errors.New("lock busy")

// DefaultTTL bounds how long a crashed holder can block a client.
const DefaultTTL = 30 * time.Second

type releaser interface {
	Release(ctx context.Context) error
}

// Redis obtains locks through redislock.
type Redis struct {
	obtain  func(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (releaser, error)
	ttl     time.Duration
	retries int
	backoff time.Duration
	log     logrus.FieldLogger
}

// New wraps a go-redis client. A ttl <= 0 uses DefaultTTL.
func New(client *redis.Client, ttl time.Duration, log logrus.FieldLogger) *Redis {
	locker := redislock.New(client)
	obtain := func(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (releaser, error) {
		l, err := locker.Obtain(ctx, key, ttl, opt)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return newRedis(obtain, ttl, log)
}

func newRedis(obtain func(context.Context, string, time.Duration, *redislock.Options) (releaser, error), ttl time.Duration, log logrus.FieldLogger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Redis{
		obtain:  obtain,
		ttl:     ttl,
		retries: 20,
		backoff: 100 * time.Millisecond,
		log:     log,
	}
}

// Lock blocks, retrying with linear backoff, until key is held.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	opt := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.backoff), r.retries),
	}
	l, err := r.obtain(ctx, key, r.ttl, opt)
	if errors.Is(err, redislock.ErrNotObtained) {
		r.log.WithField("key", key).Warn("could not obtain redis lock")
		return nil, fmt.Errorf("%w: %s", ErrBusy, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func() {
		// release on a fresh context: the request context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.WithField("key", key).WithError(err).Warn("failed to release redis lock")
		}
	}, nil
}
