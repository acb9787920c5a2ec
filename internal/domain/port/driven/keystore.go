package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
)

// Sentinel errors returned by KeyStore implementations.
var (
	// ErrKeyNotFound indicates the key is not in the pool.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyAlreadyExists indicates a key with the same value is already pooled.
	ErrKeyAlreadyExists = errors.New("key already exists")

	// ErrSecretKeyRequired is returned when sealed key material is read by a
	// store that was constructed without a secret key.
	ErrSecretKeyRequired = errors.New("sealed key material requires KEYPANEL_SECRET_KEY")
)

// KeyStore defines the driven port for key pool persistence. Every mutation
// is atomic for its key; concurrent mutations of the same key are serialized
// and the last committed one wins.
type KeyStore interface {
	// Add inserts a new key. Returns ErrKeyAlreadyExists on a duplicate value.
	Add(ctx context.Context, key model.Key) error

	// Delete removes a key. Returns ErrKeyNotFound if absent.
	Delete(ctx context.Context, value string) error

	// Get returns the key, or nil, nil if absent.
	Get(ctx context.Context, value string) (*model.Key, error)

	// List returns a snapshot of all keys in insertion order.
	List(ctx context.Context) ([]model.Key, error)

	// ListByStatus returns a snapshot of keys with the given status in
	// insertion order.
	ListByStatus(ctx context.Context, status model.KeyStatus) ([]model.Key, error)

	// Disable marks the key disabled with reason. A key that is already
	// disabled keeps its original DisabledAt. Returns ErrKeyNotFound if absent.
	Disable(ctx context.Context, value, reason string, at time.Time) (model.Key, error)

	// Reactivate marks the key active and clears DisabledAt and the failure
	// reason. Returns ErrKeyNotFound if absent.
	Reactivate(ctx context.Context, value string) (model.Key, error)
}
