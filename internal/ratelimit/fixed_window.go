// Package ratelimit provides a Redis-backed fixed window rate limiter
// shared by the auth endpoints.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter limits requests per key in a fixed time window.
// State lives in Redis so every replica shares the same counters.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration

	client *redis.Client
	prefix string
}

// NewFixedWindowLimiter creates a limiter on an existing Redis client.
func NewFixedWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "studyassist:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		client: client,
		prefix: prefix,
	}, nil
}

// Allow returns true when the key is within quota.
// On Redis failures, it fails closed and returns false.
func (l *FixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	windowSlot := time.Now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, windowSlot)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false
	}
	return res <= int64(l.limit)
}
