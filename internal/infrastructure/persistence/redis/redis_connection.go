// Package redis provides the Redis connection and the snapshot cache used to
// serve last-known quota and entitlement state between store refreshes.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/aegis/internal/config"
	"github.com/turtacn/aegis/pkg/errors"
	"github.com/turtacn/aegis/pkg/logger"
)

// RedisConnection wraps a universal client so standalone and cluster
// deployments share one construction path.
type RedisConnection struct {
	Client redis.UniversalClient
}

// NewRedisConnection creates and pings a Redis client.
func NewRedisConnection(cfg *config.RedisConfig, log logger.Logger) (*RedisConnection, error) {
	if cfg == nil || len(cfg.Addresses) == 0 {
		return nil, errors.ErrConfiguration("redis addresses are required")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.ErrTransientStore("redis ping failed").WithCause(err)
	}

	log.Info(context.Background(), "redis connection initialized",
		logger.Any("addresses", cfg.Addresses),
		logger.Int("db", cfg.DB),
	)

	return &RedisConnection{Client: client}, nil
}

// Close releases the underlying client.
func (c *RedisConnection) Close() error {
	return c.Client.Close()
}
