// Package migrations embeds SQL migration files into the binary.
//
// The device core runs its migrations at boot without needing the SQL
// files on the filesystem.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

// Tables lists the tables the daemon requires after migrating.
var Tables = []string{"profile_devices", "trigger_history"}

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
