// Package config loads process configuration from the environment. A .env
// file in the working directory is read first when present.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB configures the database handle.
type DB struct {
	Driver          string        `env:"DB_DRIVER" envDefault:"sqlite"`
	URL             string        `env:"DATABASE_URL" envDefault:"file:tenancy.db?cache=shared&_busy_timeout=5000"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"16"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"8"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"15m"`
	Migrate         bool          `env:"DB_MIGRATE" envDefault:"true"`
	Debug           bool          `env:"DB_DEBUG" envDefault:"false"`
	PingTimeout     time.Duration `env:"DB_PING_TIMEOUT" envDefault:"5s"`
}

// HTTP configures the read API.
type HTTP struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Kafka configures the outbox publisher. An empty bootstrap list disables
// the relay.
type Kafka struct {
	Bootstrap string `env:"KAFKA_BOOTSTRAP_SERVERS"`
	Topic     string `env:"KAFKA_TOPIC" envDefault:"tenancy.lifecycle.events"`
}

// Outbox configures the relay worker.
type Outbox struct {
	BatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	Retention    time.Duration `env:"OUTBOX_RETENTION" envDefault:"168h"`
}

// Retention configures operational log pruning.
type Retention struct {
	SystemLogs    time.Duration `env:"SYSTEM_LOG_RETENTION" envDefault:"720h"`
	PruneInterval time.Duration `env:"SYSTEM_LOG_PRUNE_INTERVAL" envDefault:"1h"`
	SweepInterval time.Duration `env:"PLAN_CHANGE_SWEEP_INTERVAL" envDefault:"5m"`
}

// Features toggles gated operations.
type Features struct {
	TrialExtension bool `env:"FEATURE_TRIAL_EXTENSION" envDefault:"false"`
}

// Log configures the logrus adapter.
type Log struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	JSON  bool   `env:"LOG_JSON" envDefault:"false"`
}

// Config is the process configuration.
type Config struct {
	DB        DB
	HTTP      HTTP
	Kafka     Kafka
	Outbox    Outbox
	Retention Retention
	Features  Features
	Log       Log
	PlanCache bool `env:"PLAN_CACHE" envDefault:"true"`
}

// Load reads the optional .env files and parses the environment.
func Load(files ...string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load(files...)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross field constraints env tags cannot express.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.DB.URL == "" {
		return fmt.Errorf("config: DATABASE_URL required")
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("config: OUTBOX_BATCH_SIZE must be positive")
	}
	return nil
}
