package app

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

// RedisRateLimiter implements fixed-window rate limiting shared across processes.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter creates a limiter storing counters under prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "ambassador:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: trimmedPrefix}
}

// Allow consumes one unit for subject within scope and reports whether the caller is still
// under limit for the current window. A nil limiter or non-positive limit always allows.
func (r *RedisRateLimiter) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (bool, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return true, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return true, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)
	raw, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return true, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return true, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return true, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	return count <= int64(limit), nil
}
