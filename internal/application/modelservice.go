package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
	"github.com/ericfisherdev/keypanel/internal/domain/port/driven"
)

// modelListAttempts is how many active keys are tried before giving up.
const modelListAttempts = 3

// ModelService proxies the upstream model catalogue so the admin API can
// offer test targets without exposing a key to the browser.
type ModelService struct {
	keys   *KeyService
	lister driven.ModelLister
}

// NewModelService creates a ModelService.
func NewModelService(keys *KeyService, lister driven.ModelLister) *ModelService {
	return &ModelService{keys: keys, lister: lister}
}

// ListModels fetches the catalogue with the next active key, moving on to
// the following key when the upstream call fails.
func (s *ModelService) ListModels(ctx context.Context) ([]model.TargetModel, error) {
	var lastErr error

	for attempt := 1; attempt <= modelListAttempts; attempt++ {
		key, err := s.keys.NextActive(ctx)
		if err != nil {
			return nil, err
		}

		models, err := s.lister.ListModels(ctx, key.Value)
		if err == nil {
			return models, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		lastErr = err
		slog.Warn("model list attempt failed",
			"attempt", attempt,
			"key", model.MaskKey(key.Value),
			"error", err,
		)
	}

	return nil, fmt.Errorf("%w: %v", ErrUpstream, lastErr)
}
