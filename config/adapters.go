package config

import (
	"context"
	"strings"
	"time"

	featuregate "github.com/goliatone/go-featuregate/gate"
	persistence "github.com/goliatone/go-persistence-bun"
)

// PersistenceConfig adapts DB to the go-persistence-bun client config.
type PersistenceConfig struct {
	db DB
}

var _ persistence.Config = PersistenceConfig{}

// Persistence returns the go-persistence-bun view of the DB section.
func (d DB) Persistence() PersistenceConfig {
	return PersistenceConfig{db: d}
}

func (c PersistenceConfig) GetDebug() bool                { return c.db.Debug }
func (c PersistenceConfig) GetDriver() string             { return c.db.Driver }
func (c PersistenceConfig) GetServer() string             { return c.db.URL }
func (c PersistenceConfig) GetPingTimeout() time.Duration { return c.db.PingTimeout }
func (c PersistenceConfig) GetOtelIdentifier() string     { return "go-tenancy" }

// Feature keys understood by Gate.
const (
	FeatureTrialExtension = "tenants.trial_extension"
)

// staticGate answers feature checks from process configuration. Scope options
// are accepted and ignored; every tenant sees the same value.
type staticGate struct {
	flags map[string]bool
}

// Gate exposes the feature toggles through the go-featuregate contract.
func (f Features) Gate() featuregate.FeatureGate {
	return staticGate{flags: map[string]bool{
		FeatureTrialExtension: f.TrialExtension,
	}}
}

func (g staticGate) Enabled(_ context.Context, key string, _ ...featuregate.ResolveOption) (bool, error) {
	return g.flags[strings.TrimSpace(key)], nil
}
