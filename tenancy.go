package tenancy

import (
	"io/fs"

	"github.com/goliatone/go-tenancy/migrations"
	"github.com/goliatone/go-tenancy/service"
)

// Re-export the service package entry point so consumers can do
// `tenancy.New(...)` without importing the wiring package.
type (
	Service  = service.Service
	Config   = service.Config
	Commands = service.Commands
	Queries  = service.Queries
)

// New constructs the go-tenancy runtime using the provided configuration.
func New(cfg Config) (*Service, error) {
	return service.New(cfg)
}

// MigrationsFS returns the dialect aware migration tree. Root files are the
// PostgreSQL migrations and SQLite variants live under sqlite/:
//
//	client.RegisterDialectMigrations(
//	    tenancy.MigrationsFS(),
//	    persistence.WithDialectSourceLabel("."),
//	    persistence.WithValidationTargets("postgres", "sqlite"),
//	)
func MigrationsFS() fs.FS {
	return migrations.Root()
}
