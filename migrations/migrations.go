package migrations

import (
	"embed"
	"io/fs"
)

// FS contains SQL migrations for both PostgreSQL and SQLite.
//
// Root files (data/sql/migrations/*.sql) are PostgreSQL migrations and the
// SQLite variants live in data/sql/migrations/sqlite/*.sql. go-persistence-bun
// selects the right set based on the dialect in use:
//
//	client.RegisterDialectMigrations(
//	    migrations.Root(),
//	    persistence.WithDialectSourceLabel("."),
//	    persistence.WithValidationTargets("postgres", "sqlite"),
//	)
//
//go:embed data/sql/migrations
var FS embed.FS

// Root returns the migrations tree rooted at the PostgreSQL files.
func Root() fs.FS {
	sub, err := fs.Sub(FS, "data/sql/migrations")
	if err != nil {
		return FS
	}
	return sub
}

// SQLite returns only the SQLite migration files.
func SQLite() fs.FS {
	sub, err := fs.Sub(FS, "data/sql/migrations/sqlite")
	if err != nil {
		return FS
	}
	return sub
}
