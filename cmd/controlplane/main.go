// Command controlplane runs the tenancy read API, the outbox relay and the
// periodic maintenance jobs against one database.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-tenancy/config"
	"github.com/goliatone/go-tenancy/migrations"
	"github.com/goliatone/go-tenancy/outbox"
	"github.com/goliatone/go-tenancy/pkg/logging"
	"github.com/goliatone/go-tenancy/pkg/metrics"
	"github.com/goliatone/go-tenancy/service"
	httptransport "github.com/goliatone/go-tenancy/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "controlplane: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewText(os.Stdout, cfg.Log.Level, cfg.Log.JSON)

	db, err := openDB(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.ValidateSchema(ctx, db.DB, cfg.DB.Driver); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc, err := service.New(service.Config{
		DB:          db,
		FeatureGate: cfg.Features.Gate(),
		Metrics:     m,
		PlanCache:   cfg.PlanCache,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httptransport.NewRouter(httptransport.Config{Service: svc, Logger: logger.With("component", "http"), Gatherer: reg}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Kafka.Bootstrap != "" && svc.Outbox() != nil {
		publisher, err := outbox.NewKafkaPublisher(cfg.Kafka.Bootstrap)
		if err != nil {
			return err
		}
		worker := outbox.NewWorker(svc.Outbox(), publisher,
			outbox.WithTopic(cfg.Kafka.Topic),
			outbox.WithBatchSize(cfg.Outbox.BatchSize),
			outbox.WithPollInterval(cfg.Outbox.PollInterval),
			outbox.WithRetention(cfg.Outbox.Retention),
			outbox.WithMetrics(m),
			outbox.WithLogger(logger.With("component", "outbox")),
		)
		worker.Start()
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			defer publisher.Close()
			return worker.Stop(shutdownCtx)
		})
	} else {
		logger.Info("outbox relay disabled", "reason", "KAFKA_BOOTSTRAP_SERVERS not set")
	}

	jobs := newJobs(svc, logger.With("component", "jobs"))
	g.Go(func() error {
		return every(gctx, cfg.Retention.PruneInterval, func(ctx context.Context) {
			jobs.pruneSystemLogs(ctx, cfg.Retention.SystemLogs)
		})
	})
	g.Go(func() error {
		return every(gctx, cfg.Retention.SweepInterval, jobs.applyDueChanges)
	})

	return g.Wait()
}

// openDB opens the configured driver, applies migrations through
// go-persistence-bun when enabled and returns the bun handle.
func openDB(ctx context.Context, cfg config.DB) (*bun.DB, error) {
	var (
		driverName string
		dialect    schema.Dialect
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		driverName, dialect = "postgres", pgdialect.New()
	default:
		driverName, dialect = "sqlite3", sqlitedialect.New()
	}

	sqldb, err := sql.Open(driverName, cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Driver == config.DriverSQLite {
		sqldb.SetMaxOpenConns(1)
	} else {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	client, err := persistence.New(cfg.Persistence(), sqldb, dialect)
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	if cfg.Migrate {
		for _, fsys := range migrations.Filesystems() {
			client.RegisterDialectMigrations(
				fsys,
				persistence.WithDialectSourceLabel("."),
				persistence.WithValidationTargets("postgres", "sqlite"),
			)
		}
		if err := client.ValidateDialects(ctx); err != nil {
			_ = sqldb.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		if err := client.Migrate(ctx); err != nil {
			_ = sqldb.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}
	return client.DB(), nil
}
