package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TableCheck describes a table and the columns the ledger and lifecycle
// stores read and write.
type TableCheck struct {
	Table   string
	Columns []string
}

// DefaultTableChecks lists the minimal schema the stores expect.
var DefaultTableChecks = []TableCheck{
	{
		Table: "audit_entries",
		Columns: []string{
			"id", "occurred_at", "actor_type", "actor_id", "action",
			"entity_type", "entity_id", "tenant_id", "correlation_id",
			"before_state", "after_state", "changes", "checksum", "metadata",
		},
	},
	{
		Table:   "system_logs",
		Columns: []string{"id", "event_type", "category", "severity", "status", "context", "correlation_id", "occurred_at"},
	},
	{
		Table:   "tenants",
		Columns: []string{"id", "status", "provisioning_status", "trial_ends_at", "suspended_at", "suspended_reason", "suspended_by"},
	},
	{
		Table:   "subscriptions",
		Columns: []string{"id", "tenant_id", "plan_id", "status", "pending_plan_id", "change_effective_at", "change_type"},
	},
	{
		Table:   "subscription_history",
		Columns: []string{"id", "subscription_id", "event_type", "occurred_at"},
	},
	{
		Table:   "outbox_events",
		Columns: []string{"id", "aggregate_type", "aggregate_id", "event_type", "payload", "processed_at"},
	},
}

// SchemaOption customizes schema validation.
type SchemaOption func(*schemaConfig)

type schemaConfig struct {
	checks []TableCheck
}

// WithTableChecks replaces the default checks with a custom list.
func WithTableChecks(checks []TableCheck) SchemaOption {
	return func(cfg *schemaConfig) {
		cfg.checks = checks
	}
}

// SchemaValidationError summarizes missing tables and columns.
type SchemaValidationError struct {
	MissingTables  []string
	MissingColumns map[string][]string
}

func (e *SchemaValidationError) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, 2)
	if len(e.MissingTables) > 0 {
		parts = append(parts, fmt.Sprintf("missing tables: %s", strings.Join(e.MissingTables, ", ")))
	}
	if len(e.MissingColumns) > 0 {
		tableKeys := make([]string, 0, len(e.MissingColumns))
		for table := range e.MissingColumns {
			tableKeys = append(tableKeys, table)
		}
		sort.Strings(tableKeys)
		cols := make([]string, 0, len(tableKeys))
		for _, table := range tableKeys {
			missing := e.MissingColumns[table]
			sort.Strings(missing)
			cols = append(cols, fmt.Sprintf("%s(%s)", table, strings.Join(missing, ", ")))
		}
		parts = append(parts, fmt.Sprintf("missing columns: %s", strings.Join(cols, "; ")))
	}
	if len(parts) == 0 {
		return "schema validation failed"
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// ValidateSchema ensures the migrated tables expose the columns the stores rely on.
func ValidateSchema(ctx context.Context, db *sql.DB, dialect string, opts ...SchemaOption) error {
	if db == nil {
		return errors.New("migrations: db required")
	}
	normalized := strings.ToLower(strings.TrimSpace(dialect))
	switch normalized {
	case "postgres", "postgresql":
		normalized = "postgres"
	case "sqlite", "sqlite3":
		normalized = "sqlite"
	default:
		return fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}

	cfg := schemaConfig{
		checks: DefaultTableChecks,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if len(cfg.checks) == 0 {
		return nil
	}

	missingTables := make([]string, 0)
	missingColumns := make(map[string][]string)
	for _, check := range cfg.checks {
		if strings.TrimSpace(check.Table) == "" {
			continue
		}
		cols, err := fetchColumns(ctx, db, normalized, check.Table)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			missingTables = append(missingTables, check.Table)
			continue
		}
		for _, col := range check.Columns {
			normalizedCol := strings.ToLower(strings.TrimSpace(col))
			if normalizedCol == "" {
				continue
			}
			if !cols[normalizedCol] {
				missingColumns[check.Table] = append(missingColumns[check.Table], normalizedCol)
			}
		}
	}

	if len(missingTables) == 0 && len(missingColumns) == 0 {
		return nil
	}
	sort.Strings(missingTables)
	return &SchemaValidationError{
		MissingTables:  missingTables,
		MissingColumns: missingColumns,
	}
}

func fetchColumns(ctx context.Context, db *sql.DB, dialect, table string) (map[string]bool, error) {
	switch dialect {
	case "postgres":
		return fetchColumnsPostgres(ctx, db, table)
	case "sqlite":
		return fetchColumnsSQLite(ctx, db, table)
	default:
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
}

func fetchColumnsPostgres(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
	`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}

func fetchColumnsSQLite(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", table)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultV   sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultV, &primaryKey); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}
