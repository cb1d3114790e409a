package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/config"
)

// NewClient connects to the configured Redis and verifies the connection.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}
	return client, nil
}
