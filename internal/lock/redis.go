package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries our token, so a
// holder whose ttl lapsed cannot free somebody else's lock.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	retryInitial = 10 * time.Millisecond
	retryMax     = 200 * time.Millisecond
)

func defaultRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitial
	b.MaxInterval = retryMax
	return b
}

// Redis implements Locker with SET NX PX.
type Redis struct {
	client   *goredis.Client
	prefix   string
	newRetry func() backoff.BackOff
}

// NewRedis builds a redis backed Locker. Keys are namespaced with prefix.
func NewRedis(client *goredis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, newRetry: defaultRetry}
}

// Acquire polls SET NX with exponential backoff until the key is taken or ctx ends.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	fullKey := r.prefix + key
	token := uuid.NewString()
	retry := r.newRetry()

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
			}
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return releaseScript.Run(ctx, r.client, []string{fullKey}, token).Err()
			}, nil
		}

		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			wait = retryMax
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-timer.C:
		}
	}
}
