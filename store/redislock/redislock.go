/*
Package redislock provides a generic.Locker shared by every server process.

PURPOSE:
  The in-process generic.KeyedMutex only serializes one server. When several
  servers share a database, per-employee work must be serialized through a
  lock all of them can see. This package implements that lock on Redis.

PROTOCOL:
  Acquire: SET key token NX PX ttl, retried every RetryInterval until ctx ends
  Release: delete key only if it still holds our token (Lua compare-and-delete)

  A release that fails, or finds the lease already expired, is logged on
  Logger. The work it guarded has finished by then, so it is not retried.

  The TTL bounds how long a crashed holder can block others. It must exceed
  the longest critical section (one process or approve call).

SEE ALSO:
  - generic/lock.go: Locker interface and the in-process implementation
*/
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/holdpay/generic"
)

const (
	DefaultTTL           = 30 * time.Second
	DefaultRetryInterval = 25 * time.Millisecond
	DefaultPrefix        = "holdpay:lock:"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements generic.Locker with Redis SET NX.
type Locker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	prefix        string

	// Logger receives release failures. New sets it to a no-op logger.
	Logger zerolog.Logger
}

// New creates a Locker. Zero durations fall back to the defaults.
func New(client *redis.Client, ttl, retryInterval time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return &Locker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		prefix:        DefaultPrefix,
		Logger:        zerolog.Nop(),
	}
}

// Dial parses a redis:// URL and verifies the server answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() { l.release(redisKey, token) })
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", generic.ErrLockTimeout, key)
		case <-ticker.C:
		}
	}
}

// release deletes redisKey if it still holds token. It runs even when the
// caller's context is already done.
func (l *Locker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	deleted, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
	if err != nil {
		l.Logger.Error().Err(err).Str("key", redisKey).Msg("lock release failed")
		return
	}
	if deleted == 0 {
		l.Logger.Warn().Str("key", redisKey).Dur("ttl", l.ttl).Msg("lock expired before release")
	}
}

var _ generic.Locker = (*Locker)(nil)
