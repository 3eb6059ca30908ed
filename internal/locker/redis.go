package locker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "crcert:lock:"

// releaseScript deletes the lock only when still held by this token, so an
// expired-and-retaken lock is never released by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a deployment-wide advisory lock built on SET NX with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, ttl: ttl, retry: 50 * time.Millisecond}
}

func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.retry):
		}
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err()
	}()

	return fn(ctx)
}
