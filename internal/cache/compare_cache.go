// Package cache holds computed comparison results in Redis. Versions
// are immutable once written, so a cached comparison never needs
// invalidation and expiry is purely a memory bound.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ni2-vsv11/DocTrack/internal/compare"
)

type CompareCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCompareCache(redisURL string, ttl time.Duration) (*CompareCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &CompareCache{client: client, ttl: ttl}, nil
}

func NewCompareCacheWithClient(client *redis.Client, ttl time.Duration) *CompareCache {
	return &CompareCache{client: client, ttl: ttl}
}

func key(documentID string, from, to int) string {
	return fmt.Sprintf("cmp:%s:%d:%d", documentID, from, to)
}

// Get returns the cached result and whether it was present. A decode
// failure is treated as a miss so a stale encoding never wedges a
// document pair.
func (c *CompareCache) Get(ctx context.Context, documentID string, from, to int) (compare.Result, bool, error) {
	data, err := c.client.Get(ctx, key(documentID, from, to)).Result()
	if err == redis.Nil {
		return compare.Result{}, false, nil
	}
	if err != nil {
		return compare.Result{}, false, fmt.Errorf("get cached comparison: %w", err)
	}

	var result compare.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return compare.Result{}, false, nil
	}
	return result, true, nil
}

func (c *CompareCache) Set(ctx context.Context, documentID string, from, to int, result compare.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal comparison: %w", err)
	}
	if err := c.client.Set(ctx, key(documentID, from, to), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache comparison: %w", err)
	}
	return nil
}

func (c *CompareCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *CompareCache) Close() error {
	return c.client.Close()
}
