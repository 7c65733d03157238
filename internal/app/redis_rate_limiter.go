package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Fixed-window counter: the first hit in a window sets the expiry, every hit
// returns the running count and the window's remaining lifetime.
var rateWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {hits, redis.call("PTTL", KEYS[1])}
`)

// RedisRateLimiter throttles transaction submissions across service instances
// with a per-subject fixed window in Redis.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter builds a limiter with the given key prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "harborbank:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

// ConsumeRateLimit increments the window counter for (scope, subject) and
// reports the running count plus the seconds until the window resets. A nil
// limiter, missing key parts, or a non-positive limit all short-circuit to an
// unthrottled answer.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error) {
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
	vals, err := rateWindowScript.Run(ctx, r.client, []string{key}, windowMs).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("rate limit script returned %d values", len(vals))
	}

	hits, ttlMs := vals[0], vals[1]
	// PTTL reports a negative value when the key has no expiry, e.g. after a
	// flush between the INCR and the read; treat it as a fresh window.
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	retryAfter := int((ttlMs + 999) / 1000)
	if retryAfter < 1 {
		retryAfter = 1
	}

	return int(hits), retryAfter, nil
}
