package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
	"github.com/ericfisherdev/keypanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SettingsStore = (*SettingsRepo)(nil)

// SettingsRepo is the SQLite implementation of the SettingsStore port. The
// reactivation config is a single row with id 1.
type SettingsRepo struct {
	db *DB
}

// NewSettingsRepo creates a new SettingsRepo backed by the given DB.
func NewSettingsRepo(db *DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// GetReactivation returns the saved reactivation config. Returns (nil, nil)
// when nothing has been saved, and callers fall back to boot defaults.
func (r *SettingsRepo) GetReactivation(ctx context.Context) (*model.ReactivationConfig, error) {
	const query = `
		SELECT enabled, mode, interval_ns, cron_spec, timezone
		FROM reactivation_settings
		WHERE id = 1
	`

	var (
		cfg        model.ReactivationConfig
		mode       string
		intervalNS int64
	)

	err := r.db.Reader.QueryRowContext(ctx, query).Scan(
		&cfg.Enabled, &mode, &intervalNS, &cfg.CronSpec, &cfg.Timezone,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reactivation settings: %w", err)
	}

	cfg.Mode = model.ReactivationMode(mode)
	cfg.Interval = time.Duration(intervalNS)

	return &cfg, nil
}

// SaveReactivation upserts the reactivation config row.
func (r *SettingsRepo) SaveReactivation(ctx context.Context, cfg model.ReactivationConfig) error {
	const query = `
		INSERT INTO reactivation_settings (id, enabled, mode, interval_ns, cron_spec, timezone, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			mode = excluded.mode,
			interval_ns = excluded.interval_ns,
			cron_spec = excluded.cron_spec,
			timezone = excluded.timezone,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		cfg.Enabled, string(cfg.Mode), int64(cfg.Interval), cfg.CronSpec, cfg.Timezone, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save reactivation settings: %w", err)
	}

	return nil
}
