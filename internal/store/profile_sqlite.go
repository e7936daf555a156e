package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

// SQLiteProfileStorage keeps profile device lists in the profile_devices
// table. Ids are stored lower-cased so lookups are case-insensitive.
type SQLiteProfileStorage struct {
	db *sql.DB
}

// NewSQLiteProfileStorage creates a SQLite-backed profile storage.
func NewSQLiteProfileStorage(db *sql.DB) *SQLiteProfileStorage {
	return &SQLiteProfileStorage{db: db}
}

// LoadProfile reads the stored document for id.
func (r *SQLiteProfileStorage) LoadProfile(ctx context.Context, id string) ([]byte, error) {
	query := `SELECT data FROM profile_devices WHERE id = ?`

	var data string
	err := r.db.QueryRowContext(ctx, query, strings.ToLower(id)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: profile %s has no stored devices", device.ErrNotFound, id)
		}
		return nil, fmt.Errorf("querying profile %s: %w", id, err)
	}
	return []byte(data), nil
}

// SaveProfile inserts or replaces the stored document for id.
func (r *SQLiteProfileStorage) SaveProfile(ctx context.Context, id string, data []byte) error {
	if !device.ValidProfileID(id) {
		return fmt.Errorf("%w: profile id %q", device.ErrInvalidArgument, id)
	}

	query := `
		INSERT INTO profile_devices (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		strings.ToLower(id),
		string(data),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving profile %s: %w", id, err)
	}
	return nil
}

// DeleteProfile removes the stored document for id.
func (r *SQLiteProfileStorage) DeleteProfile(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM profile_devices WHERE id = ?`, strings.ToLower(id)); err != nil {
		return fmt.Errorf("deleting profile %s: %w", id, err)
	}
	return nil
}
