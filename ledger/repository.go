package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-masker"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/checksum"
	"github.com/goliatone/go-tenancy/pkg/types"
)

// Recorder receives ledger measurements. pkg/metrics provides the Prometheus
// implementation.
type Recorder interface {
	ObserveAppend(action types.Action, entityType types.EntityType)
	IncIntegrityMismatch(entityType types.EntityType)
}

// RepositoryConfig wires the Bun-backed ledger.
type RepositoryConfig struct {
	DB         *bun.DB
	Repository repository.Repository[*Record]
	Clock      types.Clock
	IDGen      types.IDGenerator
	Logger     types.Logger
	Masker     *masker.Masker
	Metrics    Recorder
	Hooks      types.Hooks
	ExportSize int
}

// Repository is the audit ledger. It satisfies types.AuditLedger and
// types.AuditReader.
type Repository struct {
	store      repository.Repository[*Record]
	db         *bun.DB
	clock      types.Clock
	idGen      types.IDGenerator
	logger     types.Logger
	mask       *masker.Masker
	metrics    Recorder
	hooks      types.Hooks
	exportSize int
}

var (
	_ types.AuditLedger = (*Repository)(nil)
	_ types.AuditReader = (*Repository)(nil)
)

// NewRepository constructs the ledger.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("ledger: %w", types.ErrMissingDB)
	}
	repo := cfg.Repository
	if repo == nil {
		repo = NewRecordRepository(cfg.DB)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.SystemClock{}
	}
	idGen := cfg.IDGen
	if idGen == nil {
		idGen = types.UUIDGenerator{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	exportSize := cfg.ExportSize
	if exportSize <= 0 {
		exportSize = 500
	}
	return &Repository{
		store:      repo,
		db:         cfg.DB,
		clock:      clock,
		idGen:      idGen,
		logger:     logger,
		mask:       cfg.Masker,
		metrics:    cfg.Metrics,
		hooks:      cfg.Hooks,
		exportSize: exportSize,
	}, nil
}

// NewRecordRepository builds the go-repository-bun read repository used by
// the ledger.
func NewRecordRepository(db *bun.DB) repository.Repository[*Record] {
	return repository.NewRepository(db, repository.ModelHandlers[*Record]{
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

// Prepare validates the entry and fills the id, timestamps, diff and
// checksum. The returned entry is exactly what will be stored.
func (r *Repository) Prepare(entry types.AuditEntry) (types.AuditEntry, error) {
	if err := entry.Validate(); err != nil {
		return types.AuditEntry{}, err
	}
	if entry.ID == uuid.Nil {
		entry.ID = r.idGen.UUID()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.clock.Now()
	}
	entry.OccurredAt = checksum.NormalizeTime(entry.OccurredAt)
	entry.CreatedAt = checksum.NormalizeTime(r.clock.Now())
	if entry.Changes == nil && (entry.Before != nil || entry.After != nil) {
		entry.Changes = types.Diff(entry.Before, entry.After)
	}
	if entry.Changes == nil {
		entry.Changes = []types.Change{}
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	if entry.Checksum == "" {
		sum, err := checksum.Compute(entry)
		if err != nil {
			return types.AuditEntry{}, fmt.Errorf("ledger: checksum: %w", err)
		}
		entry.Checksum = sum
	}
	return entry, nil
}

// Append validates and stores a single entry, returning its id. The insert is
// a single statement so readers never observe a partial entry.
func (r *Repository) Append(ctx context.Context, entry types.AuditEntry) (uuid.UUID, error) {
	prepared, err := r.Prepare(entry)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := r.store.Create(ctx, toRecord(prepared)); err != nil {
		return uuid.Nil, fmt.Errorf("ledger: append: %w", err)
	}
	r.Committed(ctx, prepared)
	return prepared.ID, nil
}

// AppendTx stores the entry using the caller's transaction. Callers invoke
// Committed once the transaction commits so hooks and metrics only see
// durable entries.
func (r *Repository) AppendTx(ctx context.Context, tx bun.IDB, entry types.AuditEntry) (types.AuditEntry, error) {
	if tx == nil {
		return types.AuditEntry{}, fmt.Errorf("ledger: %w", types.ErrMissingDB)
	}
	prepared, err := r.Prepare(entry)
	if err != nil {
		return types.AuditEntry{}, err
	}
	if _, err := tx.NewInsert().Model(toRecord(prepared)).Exec(ctx); err != nil {
		return types.AuditEntry{}, fmt.Errorf("ledger: append: %w",
			repository.MapDatabaseError(err, repository.DetectDriver(r.db)))
	}
	return prepared, nil
}

// Committed runs post-commit side effects for entries that are now durable.
func (r *Repository) Committed(ctx context.Context, entries ...types.AuditEntry) {
	for _, entry := range entries {
		if r.metrics != nil {
			r.metrics.ObserveAppend(entry.Action, entry.EntityType)
		}
		if r.hooks.AfterAudit != nil {
			r.hooks.AfterAudit(ctx, entry)
		}
	}
}

// Update always fails. Audit entries are never modified after creation.
func (r *Repository) Update(context.Context, types.AuditEntry) error {
	return types.ErrImmutable
}

// Delete always fails. Audit entries are never removed.
func (r *Repository) Delete(context.Context, uuid.UUID) error {
	return types.ErrImmutable
}

// Get returns a single entry.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (types.AuditEntry, error) {
	rec, err := r.store.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return types.AuditEntry{}, fmt.Errorf("ledger: entry %s: %w", id, types.ErrNotFound)
		}
		return types.AuditEntry{}, err
	}
	return toEntry(rec), nil
}

// Query returns a page of entries matching every supplied filter, newest
// first unless the filter asks for ascending order.
func (r *Repository) Query(ctx context.Context, filter types.AuditFilter) (types.AuditPage, error) {
	if err := filter.Validate(); err != nil {
		return types.AuditPage{}, err
	}
	pagination := normalizePagination(filter.Pagination, 50, 200)
	criteria := []repository.SelectCriteria{
		func(q *bun.SelectQuery) *bun.SelectQuery {
			q = applyOrder(q, filter.Ascending).
				Limit(pagination.Limit).
				Offset(pagination.Offset)
			return applyAuditFilter(q, filter)
		},
	}

	rows, total, err := r.store.List(ctx, criteria...)
	if err != nil {
		return types.AuditPage{}, err
	}
	entries := make([]types.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toEntry(row))
	}
	return types.AuditPage{
		Entries:    entries,
		Total:      total,
		NextOffset: pagination.Offset + pagination.Limit,
		HasMore:    pagination.Offset+pagination.Limit < total,
	}, nil
}

// EntityHistory returns every entry for one entity, newest first.
func (r *Repository) EntityHistory(ctx context.Context, entityType types.EntityType, entityID string) ([]types.AuditEntry, error) {
	if entityType == "" || entityID == "" {
		return nil, fmt.Errorf("%w: entity type and id required", types.ErrValidation)
	}
	if !entityType.Valid() {
		return nil, fmt.Errorf("%w: unknown entity type %q", types.ErrValidation, entityType)
	}
	var rows []*Record
	err := r.db.NewSelect().
		Model(&rows).
		Where("entity_type = ?", string(entityType)).
		Where("entity_id = ?", entityID).
		OrderExpr("occurred_at DESC, id DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return toEntries(rows), nil
}

// RelatedByCorrelation returns the entries sharing the correlation id of the
// given entry, excluding the entry itself, oldest first.
func (r *Repository) RelatedByCorrelation(ctx context.Context, id uuid.UUID) ([]types.AuditEntry, error) {
	entry, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Request.CorrelationID == "" {
		return []types.AuditEntry{}, nil
	}
	var rows []*Record
	err = r.db.NewSelect().
		Model(&rows).
		Where("correlation_id = ?", entry.Request.CorrelationID).
		Where("id <> ?", entry.ID).
		OrderExpr("occurred_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return toEntries(rows), nil
}

// Verify recomputes the checksum of a stored entry. A mismatch is reported,
// logged and counted; the entry is never rewritten to match.
func (r *Repository) Verify(ctx context.Context, id uuid.UUID) (bool, error) {
	entry, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	ok, err := checksum.Verify(entry)
	if err != nil {
		return false, err
	}
	if !ok {
		r.logger.Error("audit entry integrity mismatch", types.ErrIntegrityMismatch,
			"entry_id", entry.ID.String(),
			"entity_type", string(entry.EntityType),
			"entity_id", entry.EntityID,
		)
		if r.metrics != nil {
			r.metrics.IncIntegrityMismatch(entry.EntityType)
		}
	}
	return ok, nil
}

// Stats counts matching entries grouped by action.
func (r *Repository) Stats(ctx context.Context, filter types.AuditFilter) (types.AuditStats, error) {
	stats := types.AuditStats{ByAction: make(map[types.Action]int)}
	if err := filter.Validate(); err != nil {
		return stats, err
	}
	query := r.db.NewSelect().
		Table("audit_entries").
		ColumnExpr("action").
		ColumnExpr("COUNT(*) AS total").
		Group("action")
	query = applyAuditFilter(query, filter)

	type row struct {
		Action string `bun:"action"`
		Total  int    `bun:"total"`
	}
	var rows []row
	if err := query.Scan(ctx, &rows); err != nil {
		return stats, err
	}
	for _, rec := range rows {
		stats.ByAction[types.Action(rec.Action)] = rec.Total
		stats.Total += rec.Total
	}
	return stats, nil
}

// Export streams every entry matching the filter to fn in batches using
// keyset pagination. Snapshots and metadata are masked. Pagination in the
// filter is ignored. Returning an error from fn stops the export.
func (r *Repository) Export(ctx context.Context, filter types.AuditFilter, fn func(types.AuditEntry) error) error {
	if fn == nil {
		return errors.New("ledger: export callback required")
	}
	if err := filter.Validate(); err != nil {
		return err
	}
	var cursor *Cursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rows []*Record
		q := r.db.NewSelect().Model(&rows)
		q = applyAuditFilter(q, filter)
		q = ApplyCursorPagination(q, cursor, r.exportSize, filter.Ascending)
		if err := q.Scan(ctx); err != nil {
			return err
		}
		for _, row := range rows {
			if err := fn(SanitizeEntry(r.mask, toEntry(row))); err != nil {
				return err
			}
		}
		if len(rows) < r.exportSize {
			return nil
		}
		last := rows[len(rows)-1]
		cursor = &Cursor{OccurredAt: last.OccurredAt, ID: last.ID}
	}
}

func toEntries(rows []*Record) []types.AuditEntry {
	out := make([]types.AuditEntry, 0, len(rows))
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
