package database

import (
	"context"
	"fmt"
	"time"

	"ledger-query-workers/internal/common/config"
	apperrors "ledger-query-workers/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps the Redis client shared by the registry store and the
// snapshot cache.
type RedisClient struct {
	Client *redis.Client
}

// NewRedis creates a new Redis client. Connectivity is checked with Ping.
func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 10 * time.Second, // snapshot payloads can be large
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return &RedisClient{Client: rdb}, nil
}

// Ping tests the Redis connection
func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return apperrors.NewDatabaseConnectionFailedError(fmt.Errorf("redis: %w", err))
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}
