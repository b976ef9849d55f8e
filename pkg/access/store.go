package access

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the durable single-document home of the access matrix
type Store interface {
	// Load returns the current snapshot, or ErrNotFound if never seeded
	Load(ctx context.Context) (*MatrixConfig, error)

	// Save replaces the stored document atomically and returns the
	// persisted snapshot with its server-side updated_at
	Save(ctx context.Context, cfg *MatrixConfig) (*MatrixConfig, error)
}

// SettingsStore persists the matrix as a JSONB blob in the app_settings
// table, addressed by the fixed MatrixKey
type SettingsStore struct {
	db *sql.DB
}

// NewSettingsStore creates a settings-backed matrix store
func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Load retrieves the matrix document
func (s *SettingsStore) Load(ctx context.Context) (*MatrixConfig, error) {
	query := `
		SELECT value, updated_at
		FROM app_settings
		WHERE key = $1
	`

	var raw []byte
	var updatedAt time.Time

	err := s.db.QueryRowContext(ctx, query, MatrixKey).Scan(&raw, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrStorageUnavailable, MatrixKey, err)
	}

	var entries []MatrixEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &ValidationError{
			Field:  MatrixKey,
			Reason: fmt.Sprintf("stored matrix is not valid JSON: %v", err),
		}
	}

	cfg := &MatrixConfig{
		Key:       MatrixKey,
		Entries:   entries,
		UpdatedAt: updatedAt,
	}
	if err := ValidateMatrix(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save upserts the whole document. The value column holds the entry array
// only; a JSON array serializes in slice order, so entry order survives the
// round trip.
func (s *SettingsStore) Save(ctx context.Context, cfg *MatrixConfig) (*MatrixConfig, error) {
	if err := ValidateMatrix(cfg); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(cfg.Entries)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal matrix: %w", err)
	}

	query := `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		RETURNING updated_at
	`

	var updatedAt time.Time
	if err := s.db.QueryRowContext(ctx, query, MatrixKey, raw).Scan(&updatedAt); err != nil {
		return nil, fmt.Errorf("%w: save %s: %v", ErrStorageUnavailable, MatrixKey, err)
	}

	saved := cfg.Clone()
	saved.Key = MatrixKey
	saved.UpdatedAt = updatedAt
	return saved, nil
}
