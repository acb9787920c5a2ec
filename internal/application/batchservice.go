package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
)

// BatchService applies lifecycle actions to many keys at once. Items are
// processed one at a time through KeyService; a failing item is recorded and
// never stops the rest of the batch.
type BatchService struct {
	keys *KeyService
}

// NewBatchService creates a BatchService on top of keys.
func NewBatchService(keys *KeyService) *BatchService {
	return &BatchService{keys: keys}
}

// BatchAdd adds each value as a user key. A value repeated within the batch
// fails as a duplicate after its first occurrence is added.
func (s *BatchService) BatchAdd(ctx context.Context, values []string) model.BatchResult {
	start := time.Now()

	result := s.apply(values, func(v string) error {
		_, err := s.keys.Add(ctx, v, model.KeySourceUser)
		return err
	})
	result.Message = fmt.Sprintf("Processed %d keys. Added: %d, Failed: %d",
		result.Processed, result.Succeeded, result.Failed)

	slog.Info("batch add complete",
		"processed", result.Processed,
		"added", result.Succeeded,
		"failed", result.Failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return result
}

// BatchRemove deletes each value. Values that are not pooled count as failures.
func (s *BatchService) BatchRemove(ctx context.Context, values []string) model.BatchResult {
	start := time.Now()

	result := s.apply(values, func(v string) error {
		return s.keys.Delete(ctx, v)
	})
	result.Message = fmt.Sprintf("Processed %d keys. Removed: %d, Failed: %d",
		result.Processed, result.Succeeded, result.Failed)

	slog.Info("batch remove complete",
		"processed", result.Processed,
		"removed", result.Succeeded,
		"failed", result.Failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return result
}

func (s *BatchService) apply(values []string, op func(string) error) model.BatchResult {
	result := model.BatchResult{
		Processed: len(values),
		Errors:    []model.BatchItemError{},
	}

	for _, v := range values {
		if err := op(v); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, model.BatchItemError{
				Value: model.MaskKey(v),
				Error: err.Error(),
			})
			continue
		}
		result.Succeeded++
	}

	return result
}
