// Package tenant persists tenants and resolves their effective limits.
// Lifecycle transitions live in the command package; this package only
// reads, locks and writes rows.
package tenant

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

// Filter narrows tenant listings. Every field is optional.
type Filter struct {
	Statuses           []types.TenantStatus
	ProvisioningStatus types.ProvisioningStatus
	PlanID             uuid.UUID
	Search             string
	TrialEndingBefore  *time.Time
	HeartbeatBefore    *time.Time
	Pagination         types.Pagination
}

// Type implements gocommand.Message.
func (Filter) Type() string {
	return "query.tenant.list"
}

// Validate implements gocommand.Message.
func (f Filter) Validate() error {
	if f.ProvisioningStatus != "" && !f.ProvisioningStatus.Valid() {
		return fmt.Errorf("%w: unknown provisioning status %q", types.ErrValidation, f.ProvisioningStatus)
	}
	return nil
}

// Page is a paginated tenant listing.
type Page struct {
	Tenants    []*Tenant `json:"tenants"`
	Total      int       `json:"total"`
	NextOffset int       `json:"next_offset"`
	HasMore    bool      `json:"has_more"`
}

// StoreConfig wires the tenant store.
type StoreConfig struct {
	DB         *bun.DB
	Repository repository.Repository[*Tenant]
	Clock      types.Clock
}

// Store reads and writes tenant rows.
type Store struct {
	db    *bun.DB
	repo  repository.Repository[*Tenant]
	clock types.Clock
}

// NewStore constructs the store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("tenant: %w", types.ErrMissingDB)
	}
	repo := cfg.Repository
	if repo == nil {
		repo = NewRecordRepository(cfg.DB)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Store{db: cfg.DB, repo: repo, clock: clock}, nil
}

// NewRecordRepository builds the go-repository-bun repository for tenants.
func NewRecordRepository(db *bun.DB) repository.Repository[*Tenant] {
	return repository.NewRepository(db, repository.ModelHandlers[*Tenant]{
		NewRecord: func() *Tenant { return &Tenant{} },
		GetID: func(t *Tenant) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *Tenant, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
	})
}

// DB exposes the handle used for transactions.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Get returns a tenant by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	t, err := s.repo.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, fmt.Errorf("tenant %s: %w", id, types.ErrNotFound)
		}
		return nil, err
	}
	return t, nil
}

// GetBySlug returns a tenant by slug.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	t, err := s.repo.Get(ctx, repository.SelectBy("slug", "=", strings.TrimSpace(slug)))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, fmt.Errorf("tenant %q: %w", slug, types.ErrNotFound)
		}
		return nil, err
	}
	return t, nil
}

// List returns tenants matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) (Page, error) {
	if err := filter.Validate(); err != nil {
		return Page{}, err
	}
	pagination := normalizePagination(filter.Pagination, 50, 200)
	rows, total, err := s.repo.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		q = applyFilter(q, filter)
		return q.OrderExpr("created_at DESC, id DESC").
			Limit(pagination.Limit).
			Offset(pagination.Offset)
	})
	if err != nil {
		return Page{}, err
	}
	return Page{
		Tenants:    rows,
		Total:      total,
		NextOffset: pagination.Offset + pagination.Limit,
		HasMore:    pagination.Offset+pagination.Limit < total,
	}, nil
}

// InsertTx writes a new tenant inside the caller transaction.
func (s *Store) InsertTx(ctx context.Context, tx bun.IDB, t *Tenant) error {
	if t == nil {
		return fmt.Errorf("%w: tenant required", types.ErrValidation)
	}
	now := s.clock.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	ensureMaps(t)
	if _, err := tx.NewInsert().Model(t).Exec(ctx); err != nil {
		if repository.IsDuplicatedKey(repository.MapDatabaseError(err, repository.DetectDriver(s.db))) {
			return fmt.Errorf("%w: tenant slug %q already exists", types.ErrValidation, t.Slug)
		}
		return err
	}
	return nil
}

// LockTx re-reads a tenant inside the transaction, holding a row lock on
// PostgreSQL.
func (s *Store) LockTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Tenant, error) {
	t := new(Tenant)
	q := tx.NewSelect().Model(t).Where("id = ?", id)
	if q.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s: %w", id, types.ErrNotFound)
		}
		return nil, err
	}
	return t, nil
}

// UpdateTx persists every column of a locked tenant.
func (s *Store) UpdateTx(ctx context.Context, tx bun.IDB, t *Tenant) error {
	t.UpdatedAt = s.clock.Now().UTC()
	ensureMaps(t)
	res, err := tx.NewUpdate().Model(t).WherePK().ExcludeColumn("created_at").Exec(ctx)
	if err != nil {
		return err
	}
	if err := repository.SQLExpectedCount(res, 1); err != nil {
		return fmt.Errorf("tenant %s: %w", t.ID, types.ErrNotFound)
	}
	return nil
}

func applyFilter(q *bun.SelectQuery, filter Filter) *bun.SelectQuery {
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(filter.Statuses))
	}
	if filter.ProvisioningStatus != "" {
		q = q.Where("provisioning_status = ?", filter.ProvisioningStatus)
	}
	if filter.PlanID != uuid.Nil {
		q = q.Where("plan_id = ?", filter.PlanID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(name) LIKE ?", like).
				WhereOr("LOWER(slug) LIKE ?", like).
				WhereOr("LOWER(domain) LIKE ?", like)
		})
	}
	if filter.TrialEndingBefore != nil {
		q = q.Where("status = ?", types.TenantTrial).
			Where("trial_ends_at IS NOT NULL").
			Where("trial_ends_at < ?", filter.TrialEndingBefore.UTC())
	}
	if filter.HeartbeatBefore != nil {
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("last_heartbeat_at IS NULL").
				WhereOr("last_heartbeat_at < ?", filter.HeartbeatBefore.UTC())
		})
	}
	return q
}

func ensureMaps(t *Tenant) {
	if t.HealthData == nil {
		t.HealthData = map[string]any{}
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
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
