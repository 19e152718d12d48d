package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"NewsHub/internal/ports"
	"NewsHub/internal/retry"
)

// slidingWindowScript evicts expired members, then either records the new
// send (returns 0) or returns the milliseconds until the oldest member expires.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
if redis.call("ZCARD", key) < limit then
	redis.call("ZADD", key, now, ARGV[4])
	redis.call("PEXPIRE", key, window)
	return 0
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
	wait = 1
end
return wait
`)

// RedisWindow is a sliding-window limiter whose state lives in a Redis
// sorted set, so every worker using the same key shares one budget.
type RedisWindow struct {
	client *redis.Client
	key    string
	max    int
	window time.Duration
	now    func() time.Time
	sleep  retry.Sleeper
	logger *slog.Logger
}

var _ ports.RateLimiter = (*RedisWindow)(nil)

// NewRedisWindow allows max acquisitions per window under key.
func NewRedisWindow(client *redis.Client, key string, max int, window time.Duration, logger *slog.Logger) *RedisWindow {
	if max <= 0 {
		max = 1
	}
	return &RedisWindow{
		client: client,
		key:    key,
		max:    max,
		window: window,
		now:    time.Now,
		sleep:  retry.Sleep,
		logger: logger,
	}
}

// WithClock replaces time source and sleeper; used by tests.
func (w *RedisWindow) WithClock(now func() time.Time, sleep retry.Sleeper) *RedisWindow {
	w.now = now
	w.sleep = sleep
	return w
}

// Acquire takes a slot in the shared window.
func (w *RedisWindow) Acquire(ctx context.Context) error {
	for {
		waitMs, err := slidingWindowScript.Run(ctx, w.client, []string{w.key},
			w.now().UnixMilli(),
			w.window.Milliseconds(),
			w.max,
			uuid.NewString(),
		).Int64()
		if err != nil {
			return fmt.Errorf("rate limit script: %w", err)
		}
		if waitMs == 0 {
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if w.logger != nil {
			w.logger.Warn("shared rate limit reached, waiting", "key", w.key, "wait", wait)
		}
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
