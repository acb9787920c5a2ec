package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/keypanel/internal/application"
	"github.com/ericfisherdev/keypanel/internal/domain/model"
)

var schedulerEpoch = time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC)

func intervalConfig(d time.Duration) model.ReactivationConfig {
	return model.ReactivationConfig{Enabled: true, Mode: model.ReactivationModeInterval, Interval: d}
}

func newTestScheduler(t *testing.T, store *memKeyStore, prober *funcProber) (*application.ReactivationScheduler, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(schedulerEpoch)
	keys := application.NewKeyService(store)
	tester := application.NewTestService(store, prober, 2, 10*time.Second)
	sched := application.NewReactivationScheduler(keys, tester, testModel, fc)
	t.Cleanup(sched.Stop)
	return sched, fc
}

// waitIdle blocks until the scheduler loop has armed its next timer.
func waitIdle(t *testing.T, fc *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
}

func TestScheduler_IntervalTicksOnCadence(t *testing.T) {
	store := newMemKeyStore(disabledKey("ms-b-00000002", "HTTP 429", schedulerEpoch))
	prober := &funcProber{fn: func(context.Context, string, string) error { return errors.New("HTTP 429") }}
	sched, fc := newTestScheduler(t, store, prober)

	sched.Start(context.Background(), intervalConfig(time.Minute))

	// 2m10s in 10s steps.
	for range 13 {
		waitIdle(t, fc)
		fc.Advance(10 * time.Second)
	}
	waitIdle(t, fc)

	status := sched.Status()
	assert.Equal(t, 2, status.TicksRun)
	assert.Zero(t, status.TicksSkipped)
	assert.Equal(t, model.SchedulerIdle, status.State)
	assert.Equal(t, schedulerEpoch.Add(3*time.Minute), status.NextFireAt)
	assert.Equal(t, 2, prober.callCount())
}

func TestScheduler_OverrunSkipsFireTimes(t *testing.T) {
	store := newMemKeyStore(disabledKey("ms-b-00000002", "HTTP 429", schedulerEpoch))

	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	var once sync.Once
	prober := &funcProber{fn: func(ctx context.Context, _, _ string) error {
		once.Do(func() {
			started <- struct{}{}
			select {
			case <-gate:
			case <-ctx.Done():
			}
		})
		return errors.New("HTTP 429")
	}}
	sched, fc := newTestScheduler(t, store, prober)

	sched.Start(context.Background(), intervalConfig(time.Minute))

	waitIdle(t, fc)
	fc.Advance(time.Minute)
	<-started
	assert.Equal(t, model.SchedulerRunning, sched.Status().State)

	// Two more fire times pass while the first tick is still running.
	fc.Advance(time.Minute)
	fc.Advance(time.Minute)
	close(gate)
	waitIdle(t, fc)

	status := sched.Status()
	assert.Equal(t, 1, status.TicksRun, "at most one tick in a window where the first overran")
	assert.Equal(t, 2, status.TicksSkipped)
	assert.Equal(t, schedulerEpoch.Add(4*time.Minute), status.NextFireAt)

	fc.Advance(time.Minute)
	waitIdle(t, fc)
	assert.Equal(t, 2, sched.Status().TicksRun)
}

func TestScheduler_TickReactivatesPassingKeys(t *testing.T) {
	store := newMemKeyStore(
		activeKey("ms-a-00000001"),
		disabledKey("ms-good-00002", "HTTP 429", schedulerEpoch),
		disabledKey("ms-bad-000003", "HTTP 429", schedulerEpoch),
	)
	prober := &funcProber{fn: func(_ context.Context, keyValue, modelID string) error {
		if modelID != testModel {
			return errors.New("wrong model")
		}
		if keyValue == "ms-bad-000003" {
			return errors.New("HTTP 401: invalid api key")
		}
		return nil
	}}
	sched, fc := newTestScheduler(t, store, prober)

	sched.Start(context.Background(), intervalConfig(time.Minute))
	waitIdle(t, fc)
	fc.Advance(time.Minute)
	waitIdle(t, fc)

	good := store.get("ms-good-00002")
	assert.Equal(t, model.KeyStatusActive, good.Status)
	assert.True(t, good.DisabledAt.IsZero())
	assert.Empty(t, good.LastFailureReason)

	bad := store.get("ms-bad-000003")
	assert.Equal(t, model.KeyStatusDisabled, bad.Status)
	assert.Equal(t, "HTTP 401: invalid api key", bad.LastFailureReason)
	assert.Equal(t, schedulerEpoch, bad.DisabledAt, "refreshing the reason keeps the original disable time")

	assert.Equal(t, 2, prober.callCount(), "active keys are not probed")
}

func TestScheduler_EmptyTickMakesNoProbes(t *testing.T) {
	store := newMemKeyStore(activeKey("ms-a-00000001"))
	prober := &funcProber{}
	sched, fc := newTestScheduler(t, store, prober)

	sched.Start(context.Background(), intervalConfig(time.Minute))
	waitIdle(t, fc)
	fc.Advance(time.Minute)
	waitIdle(t, fc)

	assert.Equal(t, 1, sched.Status().TicksRun)
	assert.Zero(t, prober.callCount())
}

func TestScheduler_ListErrorDoesNotStopLoop(t *testing.T) {
	store := newMemKeyStore()
	store.listErr = errors.New("database is locked")
	sched, fc := newTestScheduler(t, store, &funcProber{})

	sched.Start(context.Background(), intervalConfig(time.Minute))
	waitIdle(t, fc)
	fc.Advance(time.Minute)
	waitIdle(t, fc)

	status := sched.Status()
	assert.Equal(t, 1, status.TicksRun)
	assert.Equal(t, model.SchedulerIdle, status.State)
}

func TestScheduler_ApplyRestartsWithNewCadence(t *testing.T) {
	store := newMemKeyStore()
	sched, fc := newTestScheduler(t, store, &funcProber{})

	sched.Start(context.Background(), intervalConfig(time.Hour))
	waitIdle(t, fc)
	assert.Equal(t, schedulerEpoch.Add(time.Hour), sched.Status().NextFireAt)

	sched.Apply(intervalConfig(time.Minute))
	waitIdle(t, fc)
	assert.Equal(t, schedulerEpoch.Add(time.Minute), sched.Status().NextFireAt)

	fc.Advance(time.Minute)
	waitIdle(t, fc)
	assert.Equal(t, 1, sched.Status().TicksRun)
}

func TestScheduler_DisabledConfigStops(t *testing.T) {
	sched, fc := newTestScheduler(t, newMemKeyStore(), &funcProber{})

	sched.Start(context.Background(), intervalConfig(time.Minute))
	waitIdle(t, fc)

	cfg := intervalConfig(time.Minute)
	cfg.Enabled = false
	sched.Apply(cfg)

	status := sched.Status()
	assert.Equal(t, model.SchedulerStopped, status.State)
	assert.True(t, status.NextFireAt.IsZero())
}

func TestScheduler_ScheduledMode(t *testing.T) {
	sched, fc := newTestScheduler(t, newMemKeyStore(), &funcProber{})

	sched.Start(context.Background(), model.ReactivationConfig{
		Enabled:  true,
		Mode:     model.ReactivationModeScheduled,
		CronSpec: "0 0 * * *",
		Timezone: "Asia/Shanghai",
	})
	waitIdle(t, fc)

	next := sched.Status().NextFireAt
	assert.True(t, next.Equal(time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC)), "got %s", next.UTC())

	fc.Advance(30 * time.Minute)
	waitIdle(t, fc)
	assert.Equal(t, 1, sched.Status().TicksRun)
	assert.True(t, sched.Status().NextFireAt.Equal(time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC)))
}

func TestScheduler_StopCancelsInFlightTick(t *testing.T) {
	store := newMemKeyStore(disabledKey("ms-b-00000002", "HTTP 429", schedulerEpoch))
	started := make(chan struct{}, 1)
	prober := &funcProber{fn: func(ctx context.Context, _, _ string) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}}
	sched, fc := newTestScheduler(t, store, prober)

	sched.Start(context.Background(), intervalConfig(time.Minute))
	waitIdle(t, fc)
	fc.Advance(time.Minute)
	<-started

	sched.Stop()

	assert.Equal(t, model.SchedulerStopped, sched.Status().State)
	assert.Equal(t, "HTTP 429", store.get("ms-b-00000002").LastFailureReason, "a cancelled probe records nothing")
}

func TestScheduler_ParentContextCancel(t *testing.T) {
	sched, fc := newTestScheduler(t, newMemKeyStore(), &funcProber{})

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx, intervalConfig(time.Minute))
	waitIdle(t, fc)

	cancel()
	require.Eventually(t, func() bool {
		return sched.Status().State == model.SchedulerStopped
	}, 5*time.Second, 10*time.Millisecond)
}
