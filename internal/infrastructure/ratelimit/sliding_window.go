// Package ratelimit bounds outgoing sends to N per rolling time window.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"NewsHub/internal/ports"
	"NewsHub/internal/retry"
)

// SlidingWindow is an in-process limiter. Its budget is local to the
// instance; use RedisWindow to share a budget across workers.
type SlidingWindow struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
	sleep  retry.Sleeper
	logger *slog.Logger
}

var _ ports.RateLimiter = (*SlidingWindow)(nil)

// NewSlidingWindow allows max acquisitions per window.
func NewSlidingWindow(max int, window time.Duration, logger *slog.Logger) *SlidingWindow {
	if max <= 0 {
		max = 1
	}
	return &SlidingWindow{
		max:    max,
		window: window,
		now:    time.Now,
		sleep:  retry.Sleep,
		logger: logger,
	}
}

// WithClock replaces time source and sleeper; used by tests.
func (w *SlidingWindow) WithClock(now func() time.Time, sleep retry.Sleeper) *SlidingWindow {
	w.now = now
	w.sleep = sleep
	return w
}

// Acquire takes a slot, sleeping until the oldest entry ages out when full.
func (w *SlidingWindow) Acquire(ctx context.Context) error {
	for {
		wait, ok := w.tryAcquire()
		if ok {
			return nil
		}
		if w.logger != nil {
			w.logger.Warn("rate limit reached, waiting", "wait", wait)
		}
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (w *SlidingWindow) tryAcquire() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	evict := 0
	for evict < len(w.stamps) && now.Sub(w.stamps[evict]) >= w.window {
		evict++
	}
	w.stamps = w.stamps[evict:]

	if len(w.stamps) < w.max {
		w.stamps = append(w.stamps, now)
		return 0, true
	}

	wait := w.window - now.Sub(w.stamps[0])
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// InFlight returns the number of timestamps currently inside the window.
func (w *SlidingWindow) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.stamps)
}
