// Package redis builds the shared *redis.Client used by the exchange
// client's request cache, with the same connect-with-retry discipline
// the candle store uses for Postgres.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ClientConfig holds Redis client configuration.
type ClientConfig struct {
	Addr         string
	DB           int
	Password     string
	PoolSize     int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Connect opens a pooled Redis client, retrying the initial ping up to
// cfg.MaxRetries times with a backoff that doubles after each attempt.
func Connect(ctx context.Context, cfg ClientConfig, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		DB:         cfg.DB,
		Password:   cfg.Password,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	})

	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			logger.Info("redis client connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
			return rdb, nil
		}
	}

	return nil, fmt.Errorf("redis: failed to connect after %d attempts: %w", cfg.MaxRetries+1, err)
}
