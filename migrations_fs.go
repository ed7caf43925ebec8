package wearables

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the connection, token, rate-limit and webhook delivery
// schema. Postgres files sit at the root and sqlite alternatives under sqlite/.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
