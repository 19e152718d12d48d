package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"NewsHub/internal/metrics"
	"NewsHub/internal/ports"
)

// ErrUnknownJob is returned by Trigger for unregistered names.
var ErrUnknownJob = errors.New("unknown job")

// Job is one periodic stage run.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type jobState struct {
	Job
	running atomic.Bool
}

// Orchestrator runs registered jobs on the scheduler driver. At most one run
// per job is active at a time: a tick or trigger that finds the job busy is
// skipped. Errors and panics stop at the run boundary.
type Orchestrator struct {
	driver  ports.Scheduler
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*jobState
	order   []string
	started bool
	cancel  context.CancelFunc
}

// NewOrchestrator wires the scheduler driver with stage jobs.
func NewOrchestrator(driver ports.Scheduler, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		driver:  driver,
		metrics: m,
		logger:  logger,
		jobs:    map[string]*jobState{},
	}
}

// Register adds a job. It must be called before Start.
func (o *Orchestrator) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return fmt.Errorf("job %s: orchestrator already started", job.Name)
	}
	if _, ok := o.jobs[job.Name]; ok {
		return fmt.Errorf("job %s is already registered", job.Name)
	}
	o.jobs[job.Name] = &jobState{Job: job}
	o.order = append(o.order, job.Name)
	return nil
}

// Jobs lists registered job names in registration order.
func (o *Orchestrator) Jobs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

// Start schedules every job and starts the driver. Runs get a context
// derived from ctx that is cancelled by Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return errors.New("orchestrator already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	for _, name := range o.order {
		state := o.jobs[name]
		if err := o.driver.Every(name, state.Interval, func() {
			_, _ = o.run(runCtx, state)
		}); err != nil {
			cancel()
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		o.logger.Info("job scheduled", "job", name, "interval", state.Interval)
	}

	o.driver.Start()
	o.started = true
	o.cancel = cancel
	return nil
}

// Stop stops scheduling, waits for running jobs until ctx is done and then
// cancels whatever is still running.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	cancel := o.cancel
	started := o.started
	o.started = false
	o.cancel = nil
	o.mu.Unlock()

	if !started {
		return nil
	}
	defer cancel()
	return o.driver.Stop(ctx)
}

// Trigger runs a job now, outside its cadence. It reports false when the job
// was already running and the trigger was skipped.
func (o *Orchestrator) Trigger(ctx context.Context, name string) (bool, error) {
	o.mu.Lock()
	state, ok := o.jobs[name]
	o.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return o.run(ctx, state)
}

func (o *Orchestrator) run(ctx context.Context, state *jobState) (ran bool, err error) {
	logger := o.logger.With("job", state.Name)
	if !state.running.CompareAndSwap(false, true) {
		logger.Warn("previous run still active, skipping")
		return false, nil
	}
	defer state.running.Store(false)

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			ran = true
			err = fmt.Errorf("job %s panicked: %v", state.Name, r)
		}
		elapsed := time.Since(started)
		o.metrics.JobRun(state.Name, err == nil, elapsed)
		if err != nil {
			logger.Error("job failed", "elapsed", elapsed, "error", err)
			return
		}
		logger.Debug("job finished", "elapsed", elapsed)
	}()

	return true, state.Run(ctx)
}
