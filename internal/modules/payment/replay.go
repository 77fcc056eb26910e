// README: Redis-backed replay guard for webhook deliveries.
package payment

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const replayKeyPrefix = "payment:webhook:seen:"

type RedisReplayGuard struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisReplayGuard remembers deliveries for ttl, which should exceed the signature tolerance.
func NewRedisReplayGuard(client *redis.Client, ttl time.Duration) *RedisReplayGuard {
	return &RedisReplayGuard{redis: client, ttl: ttl}
}

func (g *RedisReplayGuard) Seen(ctx context.Context, key string) (bool, error) {
	set, err := g.redis.SetNX(ctx, replayKeyPrefix+key, 1, g.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (g *RedisReplayGuard) Release(ctx context.Context, key string) error {
	return g.redis.Del(ctx, replayKeyPrefix+key).Err()
}
