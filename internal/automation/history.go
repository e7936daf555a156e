package automation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

// historyTimeFormat is fixed-width so stored timestamps sort as text.
const historyTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// HistoryRecord is a stored template event.
type HistoryRecord struct {
	ID string
	Event
}

// SQLiteHistory stores template events in the trigger_history table.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory creates a SQLite-backed event history.
func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db}
}

// RecordTemplateEvent inserts ev with a generated id.
func (h *SQLiteHistory) RecordTemplateEvent(ctx context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	query := `
		INSERT INTO trigger_history (
			id, device_id, kind, event, topic, payload, scenario, accumulated_ms, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := h.db.ExecContext(ctx, query,
		uuid.New().String(),
		ev.DeviceID,
		string(ev.Kind),
		ev.Name,
		ev.Topic,
		ev.Payload,
		ev.Scenario,
		ev.AccumulatedMS,
		at.UTC().Format(historyTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting trigger history: %w", err)
	}
	return nil
}

// List returns a device's most recent events, newest first. limit is
// clamped to 1..100 and defaults to 10.
func (h *SQLiteHistory) List(ctx context.Context, deviceID string, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT id, device_id, kind, event, topic, payload, scenario, accumulated_ms, occurred_at
		FROM trigger_history
		WHERE device_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?`

	rows, err := h.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying trigger history: %w", err)
	}
	defer rows.Close()

	var records []HistoryRecord
	for rows.Next() {
		var (
			rec        HistoryRecord
			kind       string
			occurredAt string
		)
		if err := rows.Scan(
			&rec.ID, &rec.DeviceID, &kind, &rec.Name, &rec.Topic,
			&rec.Payload, &rec.Scenario, &rec.AccumulatedMS, &occurredAt,
		); err != nil {
			return nil, fmt.Errorf("scanning trigger history: %w", err)
		}
		rec.Kind = device.TemplateKind(kind)
		if rec.At, err = time.Parse(historyTimeFormat, occurredAt); err != nil {
			return nil, fmt.Errorf("parsing occurred_at %q: %w", occurredAt, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trigger history: %w", err)
	}
	return records, nil
}

// Prune deletes events older than before and returns how many were removed.
func (h *SQLiteHistory) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := h.db.ExecContext(ctx,
		`DELETE FROM trigger_history WHERE occurred_at < ?`,
		before.UTC().Format(historyTimeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning trigger history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning trigger history: %w", err)
	}
	return n, nil
}
