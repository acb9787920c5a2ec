package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
	"github.com/ericfisherdev/keypanel/internal/domain/port/driven"
)

// ReactivationScheduler periodically probes disabled keys and reactivates the
// ones that pass. A single loop goroutine owns the timer and runs ticks
// inline, so two ticks never overlap; fire times that pass while a tick runs
// are skipped rather than queued.
type ReactivationScheduler struct {
	keys    *KeyService
	tester  *TestService
	modelID string
	clock   clockwork.Clock

	// lifecycle guards base, cancel and done; Apply and Stop hold it for
	// the whole restart so concurrent calls cannot interleave.
	lifecycle sync.Mutex
	base      context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	status model.SchedulerStatus
}

// NewReactivationScheduler creates a stopped scheduler that probes disabled
// keys against modelID.
func NewReactivationScheduler(keys *KeyService, tester *TestService, modelID string, clock clockwork.Clock) *ReactivationScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ReactivationScheduler{
		keys:    keys,
		tester:  tester,
		modelID: modelID,
		clock:   clock,
		base:    context.Background(),
		status:  model.SchedulerStatus{State: model.SchedulerStopped},
	}
}

// ModelID returns the model disabled keys are probed against.
func (s *ReactivationScheduler) ModelID() string {
	return s.modelID
}

// Start binds the scheduler to ctx and applies cfg. Cancelling ctx stops the
// loop for good.
func (s *ReactivationScheduler) Start(ctx context.Context, cfg model.ReactivationConfig) {
	s.lifecycle.Lock()
	s.base = ctx
	s.lifecycle.Unlock()

	s.Apply(cfg)
}

// Apply stops the running loop, if any, and starts a new one for cfg so the
// new cadence governs the very next fire. A disabled or unschedulable cfg
// leaves the scheduler stopped.
func (s *ReactivationScheduler) Apply(cfg model.ReactivationConfig) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopLocked()

	if !cfg.Enabled {
		slog.Info("reactivation scheduler disabled")
		return
	}

	first, err := NextFireTime(cfg, s.clock.Now())
	if err != nil {
		slog.Error("reactivation scheduler not started", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(s.base)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	s.setIdle(first)
	go s.loop(ctx, cfg, first, done)

	slog.Info("reactivation scheduler started",
		"mode", cfg.Mode,
		"interval", cfg.Interval,
		"cron_spec", cfg.CronSpec,
		"timezone", cfg.Timezone,
		"next_fire_at", first,
	)
}

// Stop cancels the loop and any in-flight tick and waits for it to exit.
func (s *ReactivationScheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()
}

func (s *ReactivationScheduler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// Status returns a snapshot of the scheduler state.
func (s *ReactivationScheduler) Status() model.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *ReactivationScheduler) loop(ctx context.Context, cfg model.ReactivationConfig, next time.Time, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.status.State = model.SchedulerStopped
		s.status.NextFireAt = time.Time{}
		s.mu.Unlock()
		close(done)
	}()

	for {
		timer := s.clock.NewTimer(next.Sub(s.clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		fired := next
		s.setRunning(fired)
		s.tick(ctx)
		if ctx.Err() != nil {
			return
		}

		var skipped int
		var err error
		next, skipped, err = followingFireTime(cfg, fired, s.clock.Now())
		if err != nil {
			slog.Error("reactivation scheduler stopped", "error", err)
			return
		}
		if skipped > 0 {
			slog.Warn("reactivation tick overran, skipping fire times",
				"skipped", skipped,
				"next_fire_at", next,
			)
		}

		s.mu.Lock()
		s.status.TicksSkipped += skipped
		s.mu.Unlock()
		s.setIdle(next)
	}
}

// followingFireTime returns the first fire time after fired that is still in
// the future at now, plus how many fire times were passed over.
func followingFireTime(cfg model.ReactivationConfig, fired, now time.Time) (time.Time, int, error) {
	next, err := NextFireTime(cfg, fired)
	if err != nil {
		return time.Time{}, 0, err
	}

	skipped := 0
	for !next.After(now) {
		skipped++
		next, err = NextFireTime(cfg, next)
		if err != nil {
			return time.Time{}, 0, err
		}
	}
	return next, skipped, nil
}

// tick probes every disabled key once. Per-key failures are logged and never
// end the tick early.
func (s *ReactivationScheduler) tick(ctx context.Context) {
	start := s.clock.Now()

	disabled, err := s.keys.ListByStatus(ctx, model.KeyStatusDisabled)
	if err != nil {
		slog.Error("reactivation tick failed", "error", err)
		return
	}

	var (
		mu          sync.Mutex
		reactivated int
	)

	var g errgroup.Group
	g.SetLimit(s.tester.Concurrency())
	for _, key := range disabled {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if s.reprobe(ctx, key) {
				mu.Lock()
				reactivated++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("reactivation tick complete",
		"checked", len(disabled),
		"reactivated", reactivated,
		"still_disabled", len(disabled)-reactivated,
		"duration", s.clock.Since(start).Round(time.Millisecond),
	)
}

// reprobe probes one disabled key and records the outcome. It reports whether
// the key was reactivated.
func (s *ReactivationScheduler) reprobe(ctx context.Context, key model.Key) bool {
	result := s.tester.ProbeKey(ctx, key.Value, s.modelID)
	if ctx.Err() != nil {
		return false
	}

	if result.OK() {
		_, err := s.keys.Reactivate(ctx, key.Value)
		switch {
		case err == nil:
			return true
		case errors.Is(err, driven.ErrKeyNotFound):
			slog.Debug("key removed during reactivation tick", "key", model.MaskKey(key.Value))
		default:
			slog.Error("failed to reactivate key", "key", model.MaskKey(key.Value), "error", err)
		}
		return false
	}

	_, err := s.keys.Disable(ctx, key.Value, result.Error)
	switch {
	case err == nil:
	case errors.Is(err, driven.ErrKeyNotFound):
		slog.Debug("key removed during reactivation tick", "key", model.MaskKey(key.Value))
	default:
		slog.Error("failed to refresh failure reason", "key", model.MaskKey(key.Value), "error", err)
	}
	return false
}

func (s *ReactivationScheduler) setIdle(next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = model.SchedulerIdle
	s.status.NextFireAt = next
}

func (s *ReactivationScheduler) setRunning(fired time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = model.SchedulerRunning
	s.status.LastTickAt = fired
	s.status.TicksRun++
}
