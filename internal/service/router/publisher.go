package router

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter adapts redis.Client to the Publisher interface.
type RedisAdapter struct {
	Client *redis.Client
}

// Publish publishes a payload to a Redis channel
func (a *RedisAdapter) Publish(ctx context.Context, channel string, payload interface{}) error {
	return a.Client.Publish(ctx, channel, payload).Err()
}
