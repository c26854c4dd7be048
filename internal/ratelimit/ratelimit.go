package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// Limiter enforces at most max admitted requests per fixed window per
// identity key. Counters live in redis so every server instance shares the
// same window.
type Limiter struct {
	redis  *redis.Client
	window time.Duration
	max    int64
}

// Decision is the outcome of one Admit call. RetryAfter is positive only on
// rejection.
type Decision struct {
	Allowed    bool
	Used       int64
	RetryAfter time.Duration
}

func NewLimiter(rdb *redis.Client, window time.Duration, max int64) *Limiter {
	if window <= 0 {
		window = 30 * time.Second
	}
	if max <= 0 {
		max = 1
	}
	return &Limiter{redis: rdb, window: window, max: max}
}

// Admit counts the request against the identity's current window and reports
// whether it may proceed.
func (l *Limiter) Admit(ctx context.Context, identityKey string, now time.Time) (Decision, error) {
	windowStart := now.UTC().Truncate(l.window)
	windowEnd := windowStart.Add(l.window)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("aicompare:ratelimit:%s:%d", identityKey, windowStart.Unix())
	used, err := incrWithTTLScript.Run(ctx, l.redis, []string{key}, ttl).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if used <= l.max {
		return Decision{Allowed: true, Used: used}, nil
	}
	retry := windowEnd.Sub(now.UTC())
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, Used: used, RetryAfter: retry}, nil
}

// Window reports the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}
