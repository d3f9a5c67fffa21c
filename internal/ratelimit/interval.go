package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// IntervalLimiter enforces a minimum delay between consecutive operations on
// the same key. State lives in Redis so the limit holds across worker
// processes, not just within one.
type IntervalLimiter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewIntervalLimiter constructs a limiter with the given key prefix.
func NewIntervalLimiter(client *redis.Client, prefix string, ttl time.Duration) *IntervalLimiter {
	if prefix == "" {
		prefix = "ratelimit:interval"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &IntervalLimiter{client: client, prefix: prefix, ttl: ttl}
}

// Reserve atomically claims the next available slot for key and returns how
// long the caller must wait before proceeding. Zero means go immediately.
func (l *IntervalLimiter) Reserve(ctx context.Context, key string, minInterval time.Duration) (time.Duration, error) {
	if minInterval <= 0 {
		return 0, nil
	}
	now := time.Now().UnixMilli()
	res, err := reserveScript.Run(ctx, l.client, []string{l.prefix + ":" + key},
		minInterval.Milliseconds(), now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return 0, err
	}
	waitMS, ok := res.(int64)
	if !ok || waitMS <= 0 {
		return 0, nil
	}
	return time.Duration(waitMS) * time.Millisecond, nil
}

// Wait reserves a slot and blocks until it is due or the context is done.
func (l *IntervalLimiter) Wait(ctx context.Context, key string, minInterval time.Duration) error {
	wait, err := l.Reserve(ctx, key, minInterval)
	if err != nil {
		return err
	}
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var reserveScript = redis.NewScript(`
local key = KEYS[1]
local interval = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local last = tonumber(redis.call('GET', key))
local at = now
if last ~= nil and last + interval > now then
  at = last + interval
end

redis.call('SET', key, at, 'PX', ttl)
return at - now
`)
