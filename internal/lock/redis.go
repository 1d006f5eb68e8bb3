package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions configures a Redis lock.
type RedisOptions struct {
	// Prefix is prepended to every key.
	Prefix string
	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
	// WaitTimeout caps how long Acquire waits. Zero waits until ctx ends.
	WaitTimeout time.Duration
}

// Redis is a lock shared across processes through a Redis key per lock.
type Redis struct {
	client redis.UniversalClient
	opts   RedisOptions
	token  func() string
}

// NewRedis returns a Redis lock using client.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "scheduler:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 25 * time.Millisecond
	}
	return &Redis{client: client, opts: opts, token: uuid.NewString}
}

// Acquire polls SET NX until the key is obtained, the wait timeout passes or ctx ends.
func (r *Redis) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("lock: redis client not configured")
	}
	waitCtx := ctx
	if r.opts.WaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.opts.WaitTimeout)
		defer cancel()
	}

	fullKey := r.opts.Prefix + key
	token := r.token()

	for {
		ok, err := r.client.SetNX(waitCtx, fullKey, token, r.opts.TTL).Result()
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, waitCtx.Err())
			}
			return nil, fmt.Errorf("lock: acquire %s: %w", fullKey, err)
		}
		if ok {
			return r.releaser(fullKey, token), nil
		}

		timer := time.NewTimer(r.opts.RetryInterval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return nil, errors.Join(ErrNotAcquired, waitCtx.Err())
		case <-timer.C:
		}
	}
}

func (r *Redis) releaser(key, token string) func(context.Context) error {
	return func(ctx context.Context) error {
		deleted, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("lock: release %s: %w", key, err)
		}
		if deleted == 0 {
			return ErrLockLost
		}
		return nil
	}
}
