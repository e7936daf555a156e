package automation

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

// setupHistoryDB creates an in-memory SQLite database with the
// trigger_history table.
func setupHistoryDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE trigger_history (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			event TEXT NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '',
			scenario TEXT NOT NULL DEFAULT '',
			accumulated_ms INTEGER NOT NULL DEFAULT 0,
			occurred_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestSQLiteHistory(t *testing.T) {
	h := NewSQLiteHistory(setupHistoryDB(t))
	ctx := testContext(t)
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	events := []Event{
		{DeviceID: "pedal", Kind: device.TemplateSignalHold, Name: "start", Topic: "pedal/hb", At: base},
		{DeviceID: "door", Kind: device.TemplateUID, Name: "accepted", Topic: "reader/a", Payload: "1111", At: base.Add(time.Second)},
		{
			DeviceID:      "pedal",
			Kind:          device.TemplateSignalHold,
			Name:          "completed",
			Topic:         "pedal/hb",
			Scenario:      ScenarioSignalComplete,
			AccumulatedMS: 5000,
			At:            base.Add(5500 * time.Millisecond),
		},
	}
	for _, ev := range events {
		if err := h.RecordTemplateEvent(ctx, ev); err != nil {
			t.Fatalf("RecordTemplateEvent() error = %v", err)
		}
	}

	got, err := h.List(ctx, "pedal", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() returned %d records, want 2", len(got))
	}
	first := got[0]
	if first.Name != "completed" || first.AccumulatedMS != 5000 || first.Scenario != ScenarioSignalComplete {
		t.Errorf("newest record = %+v", first)
	}
	if first.Kind != device.TemplateSignalHold || !first.At.Equal(base.Add(5500*time.Millisecond)) {
		t.Errorf("newest record kind/time = %s %s", first.Kind, first.At)
	}
	if first.ID == "" || first.ID == got[1].ID {
		t.Errorf("record ids = %q, %q", first.ID, got[1].ID)
	}

	limited, err := h.List(ctx, "pedal", 1)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("List(limit 1) returned %d records", len(limited))
	}

	removed, err := h.Prune(ctx, base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Prune() removed %d, want 2", removed)
	}
	if rest, _ := h.List(ctx, "door", 10); len(rest) != 0 {
		t.Errorf("door history after prune = %v", rest)
	}
}

func TestSQLiteHistory_AsRecorder(t *testing.T) {
	h := NewSQLiteHistory(setupHistoryDB(t))
	env := setupDispatcher(t, deviceWith("door", uidTemplate()))
	d := NewDispatcher(env.registry, Options{Recorder: h, Now: env.clock.Now})
	ctx := testContext(t)

	d.HandleMessage(ctx, "reader/a", "1111")
	d.HandleMessage(ctx, "reader/b", "2222")

	got, err := h.List(ctx, "door", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("recorded %d events, want 2", len(got))
	}
	names := map[string]bool{got[0].Name: true, got[1].Name: true}
	if !names["accepted"] || !names["success"] {
		t.Errorf("recorded events = %v", names)
	}
}
