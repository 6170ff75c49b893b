/**
 * @description
 * This file implements the Redis-backed rate limiter used to throttle the
 * caller-facing lookup and verify endpoints. Counting uses a single Lua
 * script (INCR + PEXPIRE on first hit) so the increment and the window start
 * are atomic across service instances.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client and script support.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var rateLimitScript = redis.NewScript(`
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

// RedisRateLimiter counts requests per scope and subject in fixed windows.
// It satisfies the service's RateLimiter interface.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "fraud:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: p}
}

// ConsumeRateLimit charges one request against the subject's window and
// returns the running count plus a retry-after hint derived from the key TTL.
// Missing scope/subject or a non-positive limit disables counting for the call.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := r.prefix + ":" + scope + ":" + subject
	raw, err := rateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	count, ttlMs, err := decodeLimiterReply(raw)
	if err != nil {
		return count, 0, err
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int((ttlMs + 999) / 1000)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return count, retryAfter, nil
}

// decodeLimiterReply unpacks the {count, ttl_ms} pair the script returns.
func decodeLimiterReply(raw interface{}) (int, int64, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(count), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	return int(count), ttlMs, nil
}
