package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
	"github.com/ericfisherdev/keypanel/internal/domain/port/driven"
)

// maxKeyLength bounds accepted key values.
const maxKeyLength = 512

// KeyService is the single entry point for key pool mutations. It normalizes
// and validates values before they reach the store, and stamps disable times.
type KeyService struct {
	store driven.KeyStore
	now   func() time.Time
	next  atomic.Uint64
}

// NewKeyService creates a KeyService backed by store.
func NewKeyService(store driven.KeyStore) *KeyService {
	return &KeyService{store: store, now: time.Now}
}

// NormalizeKey trims value and checks it is a usable credential.
func NormalizeKey(value string) (string, error) {
	value = strings.TrimSpace(value)

	err := validation.Validate(value,
		validation.Required.Error("must not be empty"),
		validation.RuneLength(1, maxKeyLength).Error(fmt.Sprintf("must be at most %d characters", maxKeyLength)),
		validation.By(noInnerSpace),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return value, nil
}

func noInnerSpace(v any) error {
	s, _ := v.(string)
	for _, r := range s {
		if unicode.IsSpace(r) || r == ',' {
			return errors.New("must not contain whitespace or commas")
		}
	}
	return nil
}

// Add pools a new active key.
func (s *KeyService) Add(ctx context.Context, value string, source model.KeySource) (model.Key, error) {
	value, err := NormalizeKey(value)
	if err != nil {
		return model.Key{}, err
	}

	key := model.Key{
		Value:   value,
		Status:  model.KeyStatusActive,
		Source:  source,
		AddedAt: s.now().UTC(),
	}
	if err := s.store.Add(ctx, key); err != nil {
		return model.Key{}, err
	}

	slog.Info("key added", "key", model.MaskKey(value), "source", source)
	return key, nil
}

// Delete removes a key from the pool.
func (s *KeyService) Delete(ctx context.Context, value string) error {
	value = strings.TrimSpace(value)
	if err := s.store.Delete(ctx, value); err != nil {
		return err
	}

	slog.Info("key deleted", "key", model.MaskKey(value))
	return nil
}

// Disable marks a key disabled. An empty reason records the manual default.
func (s *KeyService) Disable(ctx context.Context, value, reason string) (model.Key, error) {
	value = strings.TrimSpace(value)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = model.DefaultDisableReason
	}

	key, err := s.store.Disable(ctx, value, reason, s.now().UTC())
	if err != nil {
		return model.Key{}, err
	}

	slog.Info("key disabled", "key", model.MaskKey(value), "reason", reason)
	return key, nil
}

// Reactivate marks a key active again.
func (s *KeyService) Reactivate(ctx context.Context, value string) (model.Key, error) {
	value = strings.TrimSpace(value)

	key, err := s.store.Reactivate(ctx, value)
	if err != nil {
		return model.Key{}, err
	}

	slog.Info("key reactivated", "key", model.MaskKey(value))
	return key, nil
}

// List returns a snapshot of the pool in insertion order.
func (s *KeyService) List(ctx context.Context) ([]model.Key, error) {
	return s.store.List(ctx)
}

// ListByStatus returns a snapshot of keys with the given status.
func (s *KeyService) ListByStatus(ctx context.Context, status model.KeyStatus) ([]model.Key, error) {
	return s.store.ListByStatus(ctx, status)
}

// NextActive hands out active keys round-robin.
func (s *KeyService) NextActive(ctx context.Context) (model.Key, error) {
	active, err := s.store.ListByStatus(ctx, model.KeyStatusActive)
	if err != nil {
		return model.Key{}, err
	}
	if len(active) == 0 {
		return model.Key{}, ErrNoActiveKeys
	}

	i := (s.next.Add(1) - 1) % uint64(len(active))
	return active[i], nil
}

// Seed adds configured keys that are not pooled yet and returns how many were
// added. Invalid values are logged and skipped.
func (s *KeyService) Seed(ctx context.Context, values []string) (int, error) {
	added := 0
	for _, v := range values {
		_, err := s.Add(ctx, v, model.KeySourceConfig)
		switch {
		case err == nil:
			added++
		case errors.Is(err, driven.ErrKeyAlreadyExists):
		case errors.Is(err, ErrInvalidKey):
			slog.Warn("skipping invalid seed key", "error", err)
		default:
			return added, fmt.Errorf("seed keys: %w", err)
		}
	}
	return added, nil
}
