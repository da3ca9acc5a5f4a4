package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript atomically increments the window counter and stamps the
// window TTL on first use.
// KEYS[1] = counter key
// ARGV[1] = window length in milliseconds
// Returns: {count, remaining window in milliseconds}.
var fixedWindowScript = redis.NewScript(`
		local count = redis.call('INCR', KEYS[1])
		if count == 1 then
			redis.call('PEXPIRE', KEYS[1], ARGV[1])
		end
		local ttl = redis.call('PTTL', KEYS[1])
		if ttl < 0 then
			redis.call('PEXPIRE', KEYS[1], ARGV[1])
			ttl = tonumber(ARGV[1])
		end
		return {count, ttl}
`)

const keyPrefix = "ratelimit:client:"

// RedisLimiter is a fixed-window limiter backed by Redis, for deployments
// where several gateway replicas must share one quota per client.
type RedisLimiter struct {
	rdb    *redis.Client
	window time.Duration
	max    int
}

// NewRedisLimiter creates a limiter allowing max requests per window per key.
func NewRedisLimiter(rdb *redis.Client, window time.Duration, max int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, window: window, max: max}
}

// Check implements Limiter. When Redis is unreachable the request is allowed;
// the limiter degrades open rather than taking the chat endpoint down with it.
func (l *RedisLimiter) Check(ctx context.Context, key string) (Decision, error) {
	vals, err := fixedWindowScript.Run(ctx, l.rdb,
		[]string{keyPrefix + key},
		l.window.Milliseconds(),
	).Int64Slice()
	if err != nil || len(vals) != 2 {
		return Decision{
			Allowed:   true,
			Remaining: l.max - 1,
			ResetAt:   time.Now().Add(l.window),
		}, nil
	}

	count := int(vals[0])
	resetAt := time.Now().Add(time.Duration(vals[1]) * time.Millisecond)

	if count > l.max {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: l.max - count, ResetAt: resetAt}, nil
}
