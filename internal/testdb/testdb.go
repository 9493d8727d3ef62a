// Package testdb builds throwaway SQLite databases with the full schema
// applied, for package tests.
package testdb

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-tenancy/migrations"
)

// New opens an isolated in-memory database and applies every SQLite
// migration. A single connection is used so transactions serialize.
func New(t testing.TB) *bun.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	sqldb, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	require.NoError(t, Apply(context.Background(), db))
	return db
}

// NewFile opens a file backed database that allows conns concurrent
// connections. Transactions begin immediately, so competing writers queue on
// the busy timeout instead of failing on lock upgrades.
func NewFile(t testing.TB, conns int) *bun.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tenancy.db")
	dsn := "file:" + path + "?_busy_timeout=10000&_journal_mode=WAL&_txlock=immediate"
	sqldb, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(conns)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	require.NoError(t, Apply(context.Background(), db))
	return db
}

// Apply runs the SQLite up migrations against db in file order.
func Apply(ctx context.Context, db bun.IDB) error {
	filesystem := migrations.SQLite()
	entries, err := fs.Glob(filesystem, "*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(entries)
	for _, entry := range entries {
		content, err := fs.ReadFile(filesystem, entry)
		if err != nil {
			return err
		}
		for _, stmt := range splitStatements(string(content)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
