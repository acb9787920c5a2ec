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
var _ driven.KeyStore = (*KeyRepo)(nil)

var errSealedWithoutSecret = driven.ErrSecretKeyRequired

const keyColumns = `secret, sealed, status, disabled_at, last_failure_reason, source, added_at`

// KeyRepo is the SQLite implementation of the KeyStore port. Each mutation is
// a single statement on the writer connection, so mutations are atomic and
// serialized. Reads run on the reader pool against a WAL snapshot.
type KeyRepo struct {
	db     *DB
	sealer *sealer
}

// NewKeyRepo creates a KeyRepo. secret must be 32 bytes to seal key material
// with AES-256-GCM, or nil to store it as plaintext.
func NewKeyRepo(db *DB, secret []byte) (*KeyRepo, error) {
	s, err := newSealer(secret)
	if err != nil {
		return nil, err
	}
	return &KeyRepo{db: db, sealer: s}, nil
}

// Sealed reports whether new keys are encrypted at rest.
func (r *KeyRepo) Sealed() bool {
	return r.sealer.enabled()
}

// Add inserts a new key. The conflict clause turns a duplicate into zero
// affected rows instead of a constraint error.
func (r *KeyRepo) Add(ctx context.Context, key model.Key) error {
	const query = `
		INSERT INTO api_keys (value_digest, secret, sealed, status, disabled_at, last_failure_reason, source, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(value_digest) DO NOTHING
	`

	secret, sealed, err := r.sealer.seal(key.Value)
	if err != nil {
		return fmt.Errorf("seal key %s: %w", model.MaskKey(key.Value), err)
	}

	status := key.Status
	if status == "" {
		status = model.KeyStatusActive
	}
	source := key.Source
	if source == "" {
		source = model.KeySourceUser
	}
	addedAt := key.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		digest(key.Value), secret, sealed, string(status),
		nullTime(key.DisabledAt), key.LastFailureReason, string(source), formatTime(addedAt),
	)
	if err != nil {
		return fmt.Errorf("add key %s: %w", model.MaskKey(key.Value), err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("add key %s: %w", model.MaskKey(key.Value), driven.ErrKeyAlreadyExists)
	}

	return nil
}

// Delete removes a key.
func (r *KeyRepo) Delete(ctx context.Context, value string) error {
	const query = `DELETE FROM api_keys WHERE value_digest = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, digest(value))
	if err != nil {
		return fmt.Errorf("delete key %s: %w", model.MaskKey(value), err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete key %s: %w", model.MaskKey(value), driven.ErrKeyNotFound)
	}

	return nil
}

// Get returns the key with the given value, or nil, nil if absent.
func (r *KeyRepo) Get(ctx context.Context, value string) (*model.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE value_digest = ?`

	key, err := r.scanKey(r.db.Reader.QueryRowContext(ctx, query, digest(value)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get key %s: %w", model.MaskKey(value), err)
	}

	return key, nil
}

// List returns every key in insertion order.
func (r *KeyRepo) List(ctx context.Context) ([]model.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys ORDER BY id`
	return r.queryKeys(ctx, query)
}

// ListByStatus returns keys with the given status in insertion order.
func (r *KeyRepo) ListByStatus(ctx context.Context, status model.KeyStatus) ([]model.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE status = ? ORDER BY id`
	return r.queryKeys(ctx, query, string(status))
}

// Disable marks a key disabled. COALESCE keeps the first DisabledAt when the
// key was already disabled, while the reason is always replaced.
func (r *KeyRepo) Disable(ctx context.Context, value, reason string, at time.Time) (model.Key, error) {
	query := `
		UPDATE api_keys
		SET status = 'disabled',
			disabled_at = COALESCE(disabled_at, ?),
			last_failure_reason = ?
		WHERE value_digest = ?
		RETURNING ` + keyColumns

	key, err := r.scanKey(r.db.Writer.QueryRowContext(ctx, query, formatTime(at), reason, digest(value)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Key{}, fmt.Errorf("disable key %s: %w", model.MaskKey(value), driven.ErrKeyNotFound)
	}
	if err != nil {
		return model.Key{}, fmt.Errorf("disable key %s: %w", model.MaskKey(value), err)
	}

	return *key, nil
}

// Reactivate marks a key active and clears its disable metadata.
func (r *KeyRepo) Reactivate(ctx context.Context, value string) (model.Key, error) {
	query := `
		UPDATE api_keys
		SET status = 'active',
			disabled_at = NULL,
			last_failure_reason = ''
		WHERE value_digest = ?
		RETURNING ` + keyColumns

	key, err := r.scanKey(r.db.Writer.QueryRowContext(ctx, query, digest(value)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Key{}, fmt.Errorf("reactivate key %s: %w", model.MaskKey(value), driven.ErrKeyNotFound)
	}
	if err != nil {
		return model.Key{}, fmt.Errorf("reactivate key %s: %w", model.MaskKey(value), err)
	}

	return *key, nil
}

func (r *KeyRepo) queryKeys(ctx context.Context, query string, args ...any) ([]model.Key, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	keys := []model.Key{}
	for rows.Next() {
		key, err := r.scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, *key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}

	return keys, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (r *KeyRepo) scanKey(s scanner) (*model.Key, error) {
	var (
		key        model.Key
		secret     string
		sealed     bool
		status     string
		disabledAt sql.NullString
		source     string
		addedAt    string
	)

	err := s.Scan(&secret, &sealed, &status, &disabledAt, &key.LastFailureReason, &source, &addedAt)
	if err != nil {
		return nil, err
	}

	key.Value, err = r.sealer.open(secret, sealed)
	if err != nil {
		return nil, fmt.Errorf("open key material: %w", err)
	}

	key.Status = model.KeyStatus(status)
	key.Source = model.KeySource(source)

	if disabledAt.Valid {
		key.DisabledAt, err = parseTime(disabledAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse disabled_at: %w", err)
		}
	}

	key.AddedAt, err = parseTime(addedAt)
	if err != nil {
		return nil, fmt.Errorf("parse added_at: %w", err)
	}

	return &key, nil
}
