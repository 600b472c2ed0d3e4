// Package migrations carries the node, command, event and telemetry schema.
// A blank import hands the embedded files to database.Migrate.
package migrations

import (
	"embed"

	"github.com/nerrad567/hydro-core/internal/infrastructure/database"
)

//go:embed *.sql
var schema embed.FS

func init() {
	database.MigrationsFS = schema
	database.MigrationsDir = "."
}
