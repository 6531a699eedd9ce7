package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ticketeer/pkg/platform/sentinel"
)

// JSONCache stores JSON documents under a key prefix with a fixed TTL.
type JSONCache struct {
	client *Client
	prefix string
	ttl    time.Duration
}

func NewJSONCache(c *Client, prefix string, ttl time.Duration) *JSONCache {
	return &JSONCache{client: c, prefix: prefix, ttl: ttl}
}

// Get decodes the cached value into dst; sentinel.ErrNotFound on a miss.
func (c *JSONCache) Get(ctx context.Context, key string, dst any) error {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("cache decode: %w", err)
	}
	return nil
}

func (c *JSONCache) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *JSONCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}
