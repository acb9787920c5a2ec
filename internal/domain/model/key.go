package model

import "time"

// KeyStatus represents whether a key is eligible for dispatch.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusDisabled KeyStatus = "disabled"
)

// Valid reports whether s is a known key status.
func (s KeyStatus) Valid() bool {
	return s == KeyStatusActive || s == KeyStatusDisabled
}

// KeySource records how a key entered the pool.
type KeySource string

const (
	KeySourceConfig KeySource = "config" // Seeded from boot configuration.
	KeySourceUser   KeySource = "user"   // Added through the admin API or CLI.
)

// DefaultDisableReason is recorded when a key is disabled without a reason.
const DefaultDisableReason = "Manually disabled by user"

// Key is an upstream API credential tracked by the pool. DisabledAt is the
// zero time and LastFailureReason is empty while the key is active.
type Key struct {
	Value             string
	Status            KeyStatus
	DisabledAt        time.Time
	LastFailureReason string
	Source            KeySource
	AddedAt           time.Time
}

// IsActive reports whether the key may be handed out.
func (k Key) IsActive() bool {
	return k.Status == KeyStatusActive
}

// MaskKey shortens a key value for logs and error reports, keeping only a
// short prefix and suffix.
func MaskKey(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "…" + value[len(value)-2:]
}
