package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketwatch/pkg/errors"
	"marketwatch/pkg/logger"
)

func testLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

type mockWorker struct {
	*BaseWorker
	runCount int32
	runFunc  func(ctx context.Context) error
}

func newMockWorker(name string, interval time.Duration, enabled bool) *mockWorker {
	return &mockWorker{
		BaseWorker: NewBaseWorker(name, interval, enabled, testLogger()),
	}
}

func (m *mockWorker) Run(ctx context.Context) error {
	atomic.AddInt32(&m.runCount, 1)
	if m.runFunc != nil {
		return m.runFunc(ctx)
	}
	return nil
}

func (m *mockWorker) runs() int {
	return int(atomic.LoadInt32(&m.runCount))
}

func TestScheduler_StartStop(t *testing.T) {
	scheduler := NewScheduler(testLogger())
	worker := newMockWorker("dashboard", 50*time.Millisecond, true)
	scheduler.RegisterWorker(worker)

	require.NoError(t, scheduler.Start(context.Background()))
	assert.True(t, scheduler.IsRunning())

	require.Eventually(t, func() bool { return worker.runs() >= 2 }, 2*time.Second, 10*time.Millisecond,
		"runs immediately, then on every tick")

	require.NoError(t, scheduler.Stop())
	assert.False(t, scheduler.IsRunning())

	health := worker.Health()
	assert.GreaterOrEqual(t, health.RunCount, int64(2))
	assert.Zero(t, health.ErrorCount)
	assert.False(t, health.LastRun.IsZero())
}

func TestScheduler_RecordsFailuresAndPanics(t *testing.T) {
	scheduler := NewScheduler(testLogger())

	failing := newMockWorker("failing", time.Hour, true)
	failing.runFunc = func(context.Context) error { return errors.ErrUpstream }
	panicking := newMockWorker("panicking", time.Hour, true)
	panicking.runFunc = func(context.Context) error { panic("boom") }

	scheduler.RegisterWorker(failing)
	scheduler.RegisterWorker(panicking)
	require.NoError(t, scheduler.Start(context.Background()))

	require.Eventually(t, func() bool {
		return failing.Health().ErrorCount == 1 && panicking.Health().ErrorCount == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, scheduler.Stop())

	assert.ErrorIs(t, failing.Health().LastError, errors.ErrUpstream)
	assert.Contains(t, panicking.Health().LastError.Error(), "panicked")
}

func TestScheduler_ContextCancellation(t *testing.T) {
	scheduler := NewScheduler(testLogger())
	worker := newMockWorker("metrics", 20*time.Millisecond, true)
	scheduler.RegisterWorker(worker)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, scheduler.Start(ctx))
	cancel()

	require.NoError(t, scheduler.Stop(), "stop works after the parent context is gone")
}

func TestScheduler_DisabledWorker(t *testing.T) {
	scheduler := NewScheduler(testLogger())

	enabled := newMockWorker("enabled", 50*time.Millisecond, true)
	disabled := newMockWorker("disabled", 50*time.Millisecond, false)
	zeroInterval := newMockWorker("zero", 0, true)

	scheduler.RegisterWorker(enabled)
	scheduler.RegisterWorker(disabled)
	scheduler.RegisterWorker(zeroInterval)

	require.NoError(t, scheduler.Start(context.Background()))
	require.Eventually(t, func() bool { return enabled.runs() > 0 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, scheduler.Stop())

	assert.Equal(t, 0, disabled.runs())
	assert.Equal(t, 0, zeroInterval.runs(), "a zero interval disables the worker")
}

func TestScheduler_ShutdownTimeout(t *testing.T) {
	scheduler := NewScheduler(testLogger())
	scheduler.shutdownTimeout = 20 * time.Millisecond

	release := make(chan struct{})
	defer close(release)

	stuck := newMockWorker("stuck", time.Hour, true)
	stuck.runFunc = func(context.Context) error {
		<-release
		return nil
	}
	scheduler.RegisterWorker(stuck)

	require.NoError(t, scheduler.Start(context.Background()))
	require.Eventually(t, func() bool { return stuck.runs() == 1 }, time.Second, 5*time.Millisecond)

	err := scheduler.Stop()
	assert.ErrorIs(t, err, errors.ErrTimeout)
}

func TestScheduler_CannotStartTwice(t *testing.T) {
	scheduler := NewScheduler(testLogger())
	scheduler.RegisterWorker(newMockWorker("w", time.Hour, true))

	require.NoError(t, scheduler.Start(context.Background()))
	assert.ErrorIs(t, scheduler.Start(context.Background()), errors.ErrInternal)

	late := newMockWorker("late", time.Hour, true)
	scheduler.RegisterWorker(late)
	assert.Len(t, scheduler.GetWorkers(), 1, "registration after start is ignored")

	require.NoError(t, scheduler.Stop())
	assert.ErrorIs(t, scheduler.Stop(), errors.ErrInternal)
}

func TestScheduler_GetWorkers(t *testing.T) {
	scheduler := NewScheduler(testLogger())
	scheduler.RegisterWorker(newMockWorker("worker-1", time.Second, true))
	scheduler.RegisterWorker(newMockWorker("worker-2", time.Second, false))

	workers := scheduler.GetWorkers()
	require.Len(t, workers, 2)
	assert.Equal(t, "worker-1", workers[0].Name())
	assert.Equal(t, "worker-2", workers[1].Name())
}
