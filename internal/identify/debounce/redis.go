package debounce

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gemma:tap:"

// Redis is a shared debounce window backed by SET NX with a TTL, so every
// process observing the same reader pool agrees on which sighting was first.
type Redis struct {
	client *redis.Client
	window time.Duration
}

func NewRedis(client *redis.Client, window time.Duration) *Redis {
	return &Redis{client: client, window: window}
}

func (d *Redis) Observe(ctx context.Context, uid string) (bool, error) {
	first, err := d.client.SetNX(ctx, keyPrefix+uid, 1, d.window).Result()
	if err != nil {
		return false, fmt.Errorf("debounce observe: %w", err)
	}
	return first, nil
}
