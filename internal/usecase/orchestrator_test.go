package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsHub/internal/logging"
)

func TestOrchestratorRegisterValidates(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(&fakeScheduler{}, nil, logging.Discard())
	noop := func(context.Context) error { return nil }

	require.NoError(t, o.Register(Job{Name: "collect", Interval: time.Minute, Run: noop}))
	assert.Error(t, o.Register(Job{Name: "collect", Interval: time.Minute, Run: noop}))
	assert.Error(t, o.Register(Job{Name: "", Interval: time.Minute, Run: noop}))
	assert.Error(t, o.Register(Job{Name: "post", Interval: 0, Run: noop}))
	assert.Error(t, o.Register(Job{Name: "post", Interval: time.Minute}))
	assert.Equal(t, []string{"collect"}, o.Jobs())
}

func TestOrchestratorSkipsBusyJob(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(&fakeScheduler{}, nil, logging.Discard())
	entered := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, o.Register(Job{Name: "analyze", Interval: time.Minute, Run: func(context.Context) error {
		runs.Add(1)
		close(entered)
		<-release
		return nil
	}}))

	done := make(chan bool)
	go func() {
		ran, _ := o.Trigger(context.Background(), "analyze")
		done <- ran
	}()
	<-entered

	ran, err := o.Trigger(context.Background(), "analyze")
	require.NoError(t, err)
	assert.False(t, ran)

	close(release)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), runs.Load())
}

func TestOrchestratorContainsFailures(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(&fakeScheduler{}, nil, logging.Discard())
	boom := errors.New("boom")
	require.NoError(t, o.Register(Job{Name: "fails", Interval: time.Minute, Run: func(context.Context) error { return boom }}))
	require.NoError(t, o.Register(Job{Name: "panics", Interval: time.Minute, Run: func(context.Context) error { panic("nil map") }}))

	ran, err := o.Trigger(context.Background(), "fails")
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)

	ran, err = o.Trigger(context.Background(), "panics")
	assert.True(t, ran)
	assert.ErrorContains(t, err, "panicked")

	ran, err = o.Trigger(context.Background(), "panics")
	assert.True(t, ran, "a panicking job must not stay marked as running")
	assert.Error(t, err)

	_, err = o.Trigger(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestOrchestratorStartSchedulesJobs(t *testing.T) {
	t.Parallel()

	driver := &fakeScheduler{}
	o := NewOrchestrator(driver, nil, logging.Discard())

	var collected, posted atomic.Int32
	require.NoError(t, o.Register(Job{Name: "collect", Interval: time.Hour, Run: func(context.Context) error {
		collected.Add(1)
		return nil
	}}))
	require.NoError(t, o.Register(Job{Name: "post", Interval: time.Minute, Run: func(ctx context.Context) error {
		posted.Add(1)
		return ctx.Err()
	}}))

	require.NoError(t, o.Start(context.Background()))
	assert.True(t, driver.started)
	assert.Error(t, o.Start(context.Background()))
	assert.Error(t, o.Register(Job{Name: "late", Interval: time.Minute, Run: func(context.Context) error { return nil }}))

	driver.Fire("collect")
	driver.Fire("post")
	driver.Fire("post")
	assert.Equal(t, int32(1), collected.Load())
	assert.Equal(t, int32(2), posted.Load())

	require.NoError(t, o.Stop(context.Background()))
	assert.True(t, driver.stopped)
	require.NoError(t, o.Stop(context.Background()))
}
