package middlewares

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter shares fixed-window counters across API instances.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "loanhub:rate_limit"
	}

	return &RedisRateLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	raw, err := fixedWindowScript.Run(ctx, r.client, []string{r.prefix + ":" + key}, windowMs).Result()
	if err != nil {
		return Decision{}, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}

	count, ok := values[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok || ttlMs < 0 {
		ttlMs = windowMs
	}

	if int(count) > r.limit {
		return Decision{Allowed: false, Count: int(count), RetryAfter: time.Duration(ttlMs) * time.Millisecond}, nil
	}
	return Decision{Allowed: true, Count: int(count)}, nil
}
