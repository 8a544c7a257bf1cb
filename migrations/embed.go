// Package migrations compiles the schema migration SQL into the binary,
// so a deployment is a single executable with no companion files. The
// database package picks the files up through the registration in init.
package migrations

import (
	"embed"

	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/database"
)

//go:embed *.sql
var schemaFS embed.FS

func init() {
	database.MigrationsFS = schemaFS
	database.MigrationsDir = "."
}
