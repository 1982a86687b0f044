// Package migrations embeds SQL migration files into the binary so that
// schema setup needs no SQL files on the filesystem.
package migrations

import (
	"embed"

	"github.com/unitkey/unitkey-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // files are at the root of the embedded FS
}
