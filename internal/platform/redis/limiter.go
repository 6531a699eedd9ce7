package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ticketeer/pkg/platform/middleware/ratelimit"
)

// fixedWindow increments the counter and sets its TTL on first hit, returning
// the count and remaining TTL in milliseconds.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// LimiterStore is the Redis backend of the rate limiter.
type LimiterStore struct {
	client *Client
}

func NewLimiterStore(c *Client) *LimiterStore {
	return &LimiterStore{client: c}
}

func (s *LimiterStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*ratelimit.Result, error) {
	res, err := fixedWindow.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit incr: %w", err)
	}
	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if ttl < 0 {
		ttl = window
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &ratelimit.Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(ttl),
	}, nil
}
