// Package cache is a Redis-backed TTL cache keyed by the exchange
// client's request fingerprint (exchange, pair, interval, since|limit).
// It is repurposed from the pack's Redis-backed market-data cache
// pattern; here it caches raw fetch_ohlcv responses rather than quotes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"candlecache/internal/model"
)

var ErrNoData = errors.New("cache: no data")

// RequestCache is the optional TTL cache in front of the exchange
// client's historical fetch. The backfill path bypasses it entirely.
type RequestCache struct {
	client *redis.Client
}

func New(client *redis.Client) *RequestCache {
	return &RequestCache{client: client}
}

// Fingerprint builds the cache key (exchange, pair, interval, since|limit).
func Fingerprint(exchange, pair, interval string, sinceMs *int64, limit int) string {
	if sinceMs != nil {
		return fmt.Sprintf("ohlcv:%s:%s:%s:since:%d", exchange, pair, interval, *sinceMs)
	}
	return fmt.Sprintf("ohlcv:%s:%s:%s:limit:%d", exchange, pair, interval, limit)
}

// Get looks up bars for the given fingerprint key.
func (c *RequestCache) Get(ctx context.Context, key string) ([]model.Bar, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var bars []model.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("cache unmarshal: %w", err)
	}
	return bars, nil
}

// Set stores bars under key with the given TTL.
func (c *RequestCache) Set(ctx context.Context, key string, bars []model.Bar, ttl time.Duration) error {
	data, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// TTLFor returns the configured TTL for interval: short for fine-grained
// intervals, the default for everything coarser.
func TTLFor(interval string, ttl1m, ttl5m, ttlDefault time.Duration) time.Duration {
	switch interval {
	case "1m":
		return ttl1m
	case "5m":
		return ttl5m
	default:
		return ttlDefault
	}
}
