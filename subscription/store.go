// Package subscription persists subscriptions and their history stream.
package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// Filter narrows subscription listings.
type Filter struct {
	TenantID           uuid.UUID
	PlanID             uuid.UUID
	Statuses           []types.SubscriptionStatus
	WithPendingChanges bool
	OnTrialAt          *time.Time
	ExpiringWithinDays int
	Now                *time.Time
	Pagination         types.Pagination
}

// Type implements gocommand.Message.
func (Filter) Type() string {
	return "query.subscription.list"
}

// Validate implements gocommand.Message.
func (f Filter) Validate() error {
	if f.ExpiringWithinDays < 0 {
		return fmt.Errorf("%w: expiring window must be positive", types.ErrValidation)
	}
	if f.ExpiringWithinDays > 0 && f.Now == nil {
		return fmt.Errorf("%w: expiring window requires a reference time", types.ErrValidation)
	}
	return nil
}

// Page is a paginated subscription listing.
type Page struct {
	Subscriptions []*Subscription `json:"subscriptions"`
	Total         int             `json:"total"`
	NextOffset    int             `json:"next_offset"`
	HasMore       bool            `json:"has_more"`
}

// StoreConfig wires the subscription store.
type StoreConfig struct {
	DB         *bun.DB
	Repository repository.Repository[*Subscription]
	Clock      types.Clock
	IDGen      types.IDGenerator
}

// Store reads and writes subscriptions and appends history rows.
type Store struct {
	db    *bun.DB
	repo  repository.Repository[*Subscription]
	clock types.Clock
	idGen types.IDGenerator
}

// NewStore constructs the store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("subscription: %w", types.ErrMissingDB)
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
	return &Store{db: cfg.DB, repo: repo, clock: clock, idGen: idGen}, nil
}

// NewRecordRepository builds the go-repository-bun repository.
func NewRecordRepository(db *bun.DB) repository.Repository[*Subscription] {
	return repository.NewRepository(db, repository.ModelHandlers[*Subscription]{
		NewRecord: func() *Subscription { return &Subscription{} },
		GetID: func(s *Subscription) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *Subscription, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
	})
}

// DB exposes the handle used for transactions.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Get returns a subscription by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, fmt.Errorf("subscription %s: %w", id, types.ErrNotFound)
		}
		return nil, err
	}
	return sub, nil
}

// CurrentForTenant returns the most recent subscription of a tenant.
func (s *Store) CurrentForTenant(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.Get(ctx,
		repository.SelectBy("tenant_id", "=", tenantID.String()),
		func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("created_at DESC, id DESC").Limit(1)
		})
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, fmt.Errorf("subscription for tenant %s: %w", tenantID, types.ErrNotFound)
		}
		return nil, err
	}
	return sub, nil
}

// List returns subscriptions matching the filter, newest first.
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
		Subscriptions: rows,
		Total:         total,
		NextOffset:    pagination.Offset + pagination.Limit,
		HasMore:       pagination.Offset+pagination.Limit < total,
	}, nil
}

// ListDue returns the ids of subscriptions whose pending change is due at
// now, oldest first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []uuid.UUID
	err := s.db.NewSelect().
		Model((*Subscription)(nil)).
		Column("id").
		Where("pending_plan_id IS NOT NULL").
		Where("change_effective_at <= ?", now.UTC()).
		OrderExpr("change_effective_at ASC, id ASC").
		Limit(limit).
		Scan(ctx, &ids)
	return ids, err
}

// History returns the event stream of a subscription, oldest first.
func (s *Store) History(ctx context.Context, subscriptionID uuid.UUID) ([]History, error) {
	var rows []History
	err := s.db.NewSelect().
		Model(&rows).
		Where("subscription_id = ?", subscriptionID).
		OrderExpr("occurred_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// InsertTx writes a new subscription inside the caller transaction.
func (s *Store) InsertTx(ctx context.Context, tx bun.IDB, sub *Subscription) error {
	if sub == nil {
		return fmt.Errorf("%w: subscription required", types.ErrValidation)
	}
	if sub.ID == uuid.Nil {
		sub.ID = s.idGen.UUID()
	}
	now := s.clock.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	_, err := tx.NewInsert().Model(sub).Exec(ctx)
	return err
}

// LockTx re-reads a subscription inside the transaction, holding a row lock
// on PostgreSQL.
func (s *Store) LockTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Subscription, error) {
	sub := new(Subscription)
	q := tx.NewSelect().Model(sub).Where("id = ?", id)
	if q.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subscription %s: %w", id, types.ErrNotFound)
		}
		return nil, err
	}
	return sub, nil
}

// UpdateTx persists a locked subscription.
func (s *Store) UpdateTx(ctx context.Context, tx bun.IDB, sub *Subscription) error {
	sub.UpdatedAt = s.clock.Now().UTC()
	res, err := tx.NewUpdate().Model(sub).WherePK().ExcludeColumn("created_at").Exec(ctx)
	if err != nil {
		return err
	}
	if err := repository.SQLExpectedCount(res, 1); err != nil {
		return fmt.Errorf("subscription %s: %w", sub.ID, types.ErrNotFound)
	}
	return nil
}

// InsertHistoryTx appends one history row.
func (s *Store) InsertHistoryTx(ctx context.Context, tx bun.IDB, row *History) error {
	if row == nil || row.SubscriptionID == uuid.Nil || row.EventType == "" {
		return fmt.Errorf("%w: history row requires subscription and event", types.ErrValidation)
	}
	if row.ID == uuid.Nil {
		row.ID = s.idGen.UUID()
	}
	now := s.clock.Now().UTC()
	if row.OccurredAt.IsZero() {
		row.OccurredAt = now
	}
	row.CreatedAt = now
	if row.Metadata == nil {
		row.Metadata = map[string]any{}
	}
	_, err := tx.NewInsert().Model(row).Exec(ctx)
	return err
}

func applyFilter(q *bun.SelectQuery, filter Filter) *bun.SelectQuery {
	if filter.TenantID != uuid.Nil {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.PlanID != uuid.Nil {
		q = q.Where("plan_id = ?", filter.PlanID)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(filter.Statuses))
	}
	if filter.WithPendingChanges {
		q = q.Where("pending_plan_id IS NOT NULL")
	}
	if filter.OnTrialAt != nil {
		q = q.Where("status = ?", types.SubscriptionTrial).
			Where("trial_ends_at > ?", filter.OnTrialAt.UTC())
	}
	if filter.ExpiringWithinDays > 0 && filter.Now != nil {
		now := filter.Now.UTC()
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 0, filter.ExpiringWithinDays+1)
		q = q.Where("auto_renew = ?", false).
			Where("status IN (?)", bun.In([]types.SubscriptionStatus{types.SubscriptionActive, types.SubscriptionTrial})).
			Where("current_period_end >= ?", start).
			Where("current_period_end < ?", end)
	}
	return q
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
