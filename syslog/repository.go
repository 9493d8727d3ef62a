// Package syslog stores high volume operational events: auth activity,
// provisioning progress, billing webhook processing and AI guardrail hits.
// Unlike the audit ledger it carries no checksum and allows redaction and
// retention pruning.
package syslog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// RedactedValue replaces context values removed by Redact.
const RedactedValue = "[redacted]"

// RepositoryConfig wires the Bun-backed system log store.
type RepositoryConfig struct {
	DB         *bun.DB
	Repository repository.Repository[*Record]
	Clock      types.Clock
	IDGen      types.IDGenerator
}

// Repository persists operational log entries.
type Repository struct {
	store repository.Repository[*Record]
	db    *bun.DB
	clock types.Clock
	idGen types.IDGenerator
}

var (
	_ types.SystemLogSink   = (*Repository)(nil)
	_ types.SystemLogReader = (*Repository)(nil)
)

// NewRepository constructs the store.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("syslog: %w", types.ErrMissingDB)
	}
	repo := cfg.Repository
	if repo == nil {
		repo = repository.NewRepository(cfg.DB, repository.ModelHandlers[*Record]{
			NewRecord: func() *Record { return &Record{} },
			GetID: func(rec *Record) uuid.UUID {
				if rec == nil {
					return uuid.Nil
				}
				return rec.ID
			},
			SetID: func(rec *Record, id uuid.UUID) {
				if rec != nil {
					rec.ID = id
				}
			},
		})
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.SystemClock{}
	}
	idGen := cfg.IDGen
	if idGen == nil {
		idGen = types.UUIDGenerator{}
	}
	return &Repository{store: repo, db: cfg.DB, clock: clock, idGen: idGen}, nil
}

func (r *Repository) prepare(entry types.SystemLogEntry) (*Record, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	entry.EventType = strings.TrimSpace(entry.EventType)
	entry.Category = types.EventCategory(entry.EventType)
	if entry.Severity == "" {
		entry.Severity = types.SeverityInfo
	}
	if entry.Status == "" {
		entry.Status = types.LogStatusSuccess
	}
	if entry.ID == uuid.Nil {
		entry.ID = r.idGen.UUID()
	}
	now := r.clock.Now().UTC()
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = now
	}
	entry.OccurredAt = entry.OccurredAt.UTC().Truncate(time.Microsecond)
	rec := toRecord(entry)
	rec.CreatedAt = now
	return rec, nil
}

// Log stores an operational entry and returns its id.
func (r *Repository) Log(ctx context.Context, entry types.SystemLogEntry) (uuid.UUID, error) {
	rec, err := r.prepare(entry)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := r.store.Create(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("syslog: log: %w", err)
	}
	return rec.ID, nil
}

// LogTx stores an operational entry inside the caller's transaction.
func (r *Repository) LogTx(ctx context.Context, tx bun.IDB, entry types.SystemLogEntry) (uuid.UUID, error) {
	rec, err := r.prepare(entry)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := tx.NewInsert().Model(rec).Exec(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("syslog: log: %w", repository.MapDatabaseError(err, repository.DetectDriver(r.db)))
	}
	return rec.ID, nil
}

// Get returns one entry.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (types.SystemLogEntry, error) {
	rec, err := r.store.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return types.SystemLogEntry{}, fmt.Errorf("syslog: entry %s: %w", id, types.ErrNotFound)
		}
		return types.SystemLogEntry{}, err
	}
	return toEntry(rec), nil
}

// Query returns a page of entries, newest first.
func (r *Repository) Query(ctx context.Context, filter types.SystemLogFilter) (types.SystemLogPage, error) {
	if err := filter.Validate(); err != nil {
		return types.SystemLogPage{}, err
	}
	pagination := normalizePagination(filter.Pagination, 50, 200)
	now := r.clock.Now()
	criteria := []repository.SelectCriteria{
		func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.OrderExpr("occurred_at DESC, id DESC").
				Limit(pagination.Limit).
				Offset(pagination.Offset)
			return applySystemLogFilter(q, filter, now)
		},
	}
	rows, total, err := r.store.List(ctx, criteria...)
	if err != nil {
		return types.SystemLogPage{}, err
	}
	entries := make([]types.SystemLogEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toEntry(row))
	}
	return types.SystemLogPage{
		Entries:    entries,
		Total:      total,
		NextOffset: pagination.Offset + pagination.Limit,
		HasMore:    pagination.Offset+pagination.Limit < total,
	}, nil
}

// Recent returns entries from the last hours.
func (r *Repository) Recent(ctx context.Context, hours int, pagination types.Pagination) (types.SystemLogPage, error) {
	if hours <= 0 {
		return types.SystemLogPage{}, fmt.Errorf("%w: recent hours must be positive", types.ErrValidation)
	}
	return r.Query(ctx, types.SystemLogFilter{RecentHours: hours, Pagination: pagination})
}

// CriticalOrError narrows the filter to error and critical entries.
func (r *Repository) CriticalOrError(ctx context.Context, filter types.SystemLogFilter) (types.SystemLogPage, error) {
	filter.CriticalOrError = true
	return r.Query(ctx, filter)
}

// EntityHistory returns every entry targeting one entity, newest first.
func (r *Repository) EntityHistory(ctx context.Context, targetType, targetID string) ([]types.SystemLogEntry, error) {
	if strings.TrimSpace(targetType) == "" || strings.TrimSpace(targetID) == "" {
		return nil, fmt.Errorf("%w: target type and id required", types.ErrValidation)
	}
	var rows []*Record
	err := r.db.NewSelect().
		Model(&rows).
		Where("target_type = ?", targetType).
		Where("target_id = ?", targetID).
		OrderExpr("occurred_at DESC, id DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return toEntries(rows), nil
}

// RelatedByCorrelation returns the causal neighbours of an entry, excluding
// the entry itself, oldest first.
func (r *Repository) RelatedByCorrelation(ctx context.Context, id uuid.UUID) ([]types.SystemLogEntry, error) {
	entry, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.CorrelationID == "" {
		return []types.SystemLogEntry{}, nil
	}
	var rows []*Record
	err = r.db.NewSelect().
		Model(&rows).
		Where("correlation_id = ?", entry.CorrelationID).
		Where("id <> ?", entry.ID).
		OrderExpr("occurred_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return toEntries(rows), nil
}

// Redact replaces the named context keys with RedactedValue and stamps
// redacted_at. Keys absent from the entry are ignored.
func (r *Repository) Redact(ctx context.Context, id uuid.UUID, keys ...string) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: redaction keys required", types.ErrValidation)
	}
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		rec := new(Record)
		q := tx.NewSelect().Model(rec).Where("id = ?", id)
		if q.Dialect().Name() == dialect.PG {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("syslog: entry %s: %w", id, types.ErrNotFound)
			}
			return err
		}
		contextData := cloneMap(rec.Context)
		if contextData == nil {
			contextData = map[string]any{}
		}
		for _, key := range keys {
			if _, ok := contextData[key]; ok {
				contextData[key] = RedactedValue
			}
		}
		now := r.clock.Now().UTC()
		rec.Context = contextData
		rec.RedactedAt = &now
		_, err := tx.NewUpdate().
			Model(rec).
			Column("context", "redacted_at").
			WherePK().
			Exec(ctx)
		return err
	})
}

// Prune removes entries that occurred before the cutoff and returns how many
// were deleted.
func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*Record)(nil)).
		Where("occurred_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func toEntries(rows []*Record) []types.SystemLogEntry {
	out := make([]types.SystemLogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toEntry(row))
	}
	return out
}

func normalizePagination(p types.Pagination, def, max int) types.Pagination {
	if p.Limit <= 0 {
		p.Limit = def
	}
	if p.Limit > max {
		p.Limit = max
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
