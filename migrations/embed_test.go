package migrations

import (
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/database"
)

func TestEmbeddedMigrations(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "devicecore.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := testContext(t)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.RequireTables(ctx, Tables...); err != nil {
		t.Fatalf("RequireTables() error = %v", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2 and 0", len(applied), len(pending))
	}

	// Every migration rolls back cleanly.
	for range applied {
		if err := db.MigrateDown(ctx); err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}
	}
	if err := db.RequireTables(ctx, "profile_devices"); err == nil {
		t.Error("profile_devices should be gone after full rollback")
	}
}
