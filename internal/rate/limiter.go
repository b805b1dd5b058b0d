package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowLua atomically checks and advances a fixed-window counter.
// KEYS[1] = counter key
// ARGV[1] = max requests per window
// ARGV[2] = window length in milliseconds
//
// Returns {allowed(0|1), count, ttlMillis}.
var fixedWindowLua = redis.NewScript(`
local max = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])
local current = redis.call('GET', KEYS[1])

if not current then
  redis.call('SET', KEYS[1], 1, 'PX', windowMs)
  return {1, 1, windowMs}
end

local count = tonumber(current)
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], windowMs)
  ttl = windowMs
end

if count >= max then
  return {0, count, ttl}
end

count = redis.call('INCR', KEYS[1])
return {1, count, ttl}
`)

// Window is a fixed-window budget: at most Max requests per Length.
type Window struct {
	Max    int
	Length time.Duration
}

// Decision is the outcome of one counted request.
type Decision struct {
	Allowed    bool
	Count      int64
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter evaluates fixed windows against a Redis-compatible store.
type Limiter struct {
	redis redis.UniversalClient
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient) *Limiter {
	return &Limiter{redis: redisClient}
}

// Allow counts one request against key and reports whether it fits the window.
// Rejected requests do not advance the counter.
func (l *Limiter) Allow(ctx context.Context, key string, w Window) (Decision, error) {
	if w.Max <= 0 || w.Length < time.Millisecond {
		return Decision{}, ErrInvalidWindow
	}

	res, err := fixedWindowLua.Run(ctx, l.redis, []string{key}, w.Max, w.Length.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	ttlMs, _ := res[2].(int64)

	d := Decision{
		Allowed: allowed == 1,
		Count:   count,
	}
	if remaining := int64(w.Max) - count; remaining > 0 {
		d.Remaining = remaining
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(ttlMs) * time.Millisecond
	}
	return d, nil
}

// Enforce is Allow with rejection mapped to [ErrRateLimited].
func (l *Limiter) Enforce(ctx context.Context, key string, w Window) (Decision, error) {
	d, err := l.Allow(ctx, key, w)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		return d, ErrRateLimited
	}
	return d, nil
}

// Count returns the current counter for key. Missing keys count as zero.
func (l *Limiter) Count(ctx context.Context, key string) (int64, error) {
	n, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// Reset drops the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
