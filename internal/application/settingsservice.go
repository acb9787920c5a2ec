package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
	"github.com/ericfisherdev/keypanel/internal/domain/port/driven"
)

// reactivationApplier restarts the scheduler with a new config.
type reactivationApplier interface {
	Apply(cfg model.ReactivationConfig)
}

// SettingsService owns the current reactivation config. It validates and
// persists updates, then restarts the scheduler so the new cadence applies
// on the next fire. Reads are served from memory under a read lock.
type SettingsService struct {
	store     driven.SettingsStore
	scheduler reactivationApplier
	defaults  model.ReactivationConfig

	// updateMu serializes updates from read through scheduler restart, so
	// the saved config, current and the scheduler cadence never diverge.
	updateMu sync.Mutex

	mu      sync.RWMutex
	current model.ReactivationConfig
}

// NewSettingsService creates a SettingsService. defaults is used until a
// config has been saved.
func NewSettingsService(store driven.SettingsStore, scheduler reactivationApplier, defaults model.ReactivationConfig) *SettingsService {
	return &SettingsService{
		store:     store,
		scheduler: scheduler,
		defaults:  defaults,
		current:   defaults,
	}
}

// Load reads the saved config, falling back to the defaults, and returns the
// config now in effect. A saved config that no longer validates (for example
// a timezone missing from this host) is reported and the defaults are used.
func (s *SettingsService) Load(ctx context.Context) (model.ReactivationConfig, error) {
	saved, err := s.store.GetReactivation(ctx)
	if err != nil {
		return model.ReactivationConfig{}, fmt.Errorf("load reactivation settings: %w", err)
	}

	cfg := s.defaults
	if saved != nil {
		if err := ValidateReactivationConfig(*saved); err != nil {
			slog.Warn("saved reactivation settings are invalid, using defaults", "error", err)
		} else {
			cfg = *saved
		}
	}

	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()

	return cfg, nil
}

// Reactivation returns the config in effect.
func (s *SettingsService) Reactivation() model.ReactivationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// UpdateReactivation validates and saves cfg and restarts the scheduler. An
// invalid cfg is rejected and the current config stays in effect.
func (s *SettingsService) UpdateReactivation(ctx context.Context, cfg model.ReactivationConfig) (model.ReactivationConfig, error) {
	return s.Update(ctx, func(model.ReactivationConfig) (model.ReactivationConfig, error) {
		return cfg, nil
	})
}

// Update derives a new config from the current one with fn, then validates,
// saves and applies it. Concurrent updates run one at a time, each seeing the
// result of the previous one. An error from fn or validation leaves the
// current config in effect.
func (s *SettingsService) Update(
	ctx context.Context,
	fn func(cur model.ReactivationConfig) (model.ReactivationConfig, error),
) (model.ReactivationConfig, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	cfg, err := fn(s.Reactivation())
	if err != nil {
		return model.ReactivationConfig{}, err
	}
	if err := ValidateReactivationConfig(cfg); err != nil {
		return model.ReactivationConfig{}, err
	}
	if err := s.store.SaveReactivation(ctx, cfg); err != nil {
		return model.ReactivationConfig{}, err
	}

	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()

	slog.Info("reactivation settings updated",
		"enabled", cfg.Enabled,
		"mode", cfg.Mode,
		"interval", cfg.Interval,
		"cron_spec", cfg.CronSpec,
		"timezone", cfg.Timezone,
	)

	if s.scheduler != nil {
		s.scheduler.Apply(cfg)
	}

	return cfg, nil
}
