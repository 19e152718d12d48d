package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"NewsHub/internal/ports"
	"NewsHub/pkg/logger"
)

// CronScheduler drives named interval jobs on robfig/cron. Panics inside a
// job are recovered and logged by the cron chain.
type CronScheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler in the given location.
func NewCronScheduler(loc *time.Location, log *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	cl := logger.Cron(log, "cron")
	return &CronScheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		entries: map[string]cron.EntryID{},
	}
}

// Every registers job to run each interval under a unique name.
func (c *CronScheduler) Every(name string, interval time.Duration, job func()) error {
	if interval < time.Second {
		return fmt.Errorf("job %s: interval %s is below one second", name, interval)
	}
	if job == nil {
		return fmt.Errorf("job %s: nil function", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[name]; ok {
		return fmt.Errorf("job %s is already scheduled", name)
	}
	id, err := c.cron.AddFunc("@every "+interval.String(), job)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	c.entries[name] = id
	return nil
}

// Next returns the next activation of a named job once the scheduler runs.
func (c *CronScheduler) Next(name string) (time.Time, bool) {
	c.mu.Lock()
	id, ok := c.entries[name]
	c.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := c.cron.Entry(id)
	return entry.Next, entry.Valid()
}

// Start begins dispatching in the background.
func (c *CronScheduler) Start() {
	c.cron.Start()
}

// Stop halts scheduling and waits for running jobs or ctx, whichever ends first.
func (c *CronScheduler) Stop(ctx context.Context) error {
	done := c.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
