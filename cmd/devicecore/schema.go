package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/logging"
)

// migrateDownCommand is the argument that rolls back the newest migration
// instead of starting the daemon. Run it with the old binary's schema in
// mind before downgrading.
const migrateDownCommand = "migrate-down"

// logSchemaStatus reports the applied and pending migrations and the
// connection pool state.
func logSchemaStatus(ctx context.Context, db *database.DB, log *logging.Logger) error {
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}

	latest := ""
	if len(applied) > 0 {
		latest = applied[len(applied)-1].Version
	}
	stats := db.Stats()
	log.Info("database schema",
		"applied", len(applied),
		"pending", len(pending),
		"latest", latest,
		"open_connections", stats.OpenConnections,
		"max_open_connections", stats.MaxOpenConnections,
	)
	return nil
}

// migrateDown rolls back the most recent migration of the configured
// database.
func migrateDown(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if err := db.MigrateDown(ctx); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	log.Info("latest migration rolled back", "path", db.Path())
	return logSchemaStatus(ctx, db, log)
}
