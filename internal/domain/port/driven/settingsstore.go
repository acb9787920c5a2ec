package driven

import (
	"context"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
)

// SettingsStore defines the driven port for persisted runtime settings.
type SettingsStore interface {
	// GetReactivation returns the saved reactivation config, or nil, nil if
	// none has been saved yet.
	GetReactivation(ctx context.Context) (*model.ReactivationConfig, error)

	// SaveReactivation replaces the saved reactivation config.
	SaveReactivation(ctx context.Context, cfg model.ReactivationConfig) error
}
