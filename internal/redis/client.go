package redis

import (
	"context"
	"fmt"

	"github.com/mediline/consult/config"
	"github.com/redis/go-redis/v9"
)

// Connect opens and verifies a Redis client. The client is handed to the
// matchmaker registry and the relay presence mirror explicitly; there is no
// package-level singleton.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
