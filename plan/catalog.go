// Package plan holds the read-mostly plan catalog. Lookups go through a
// go-repository-cache decorated repository; transactional lookups bypass the
// cache and read through the caller's transaction.
package plan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-repository-cache/repositorycache"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// CatalogConfig wires the plan catalog.
type CatalogConfig struct {
	DB         *bun.DB
	Repository repository.Repository[*Plan]
	Clock      types.Clock
	IDGen      types.IDGenerator
}

// Option customizes the catalog.
type Option func(*catalogOptions)

type catalogOptions struct {
	cache bool
}

// WithCache toggles the go-repository-cache decorator.
func WithCache(enabled bool) Option {
	return func(o *catalogOptions) {
		o.cache = enabled
	}
}

// Catalog serves plan lookups.
type Catalog struct {
	store repository.Repository[*Plan]
	clock types.Clock
	idGen types.IDGenerator
}

// NewCatalog constructs the catalog.
func NewCatalog(cfg CatalogConfig, opts ...Option) (*Catalog, error) {
	if cfg.Repository == nil && cfg.DB == nil {
		return nil, fmt.Errorf("plan: %w", types.ErrMissingDB)
	}
	options := catalogOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	repo := cfg.Repository
	if repo == nil {
		repo = NewRecordRepository(cfg.DB)
	}
	if options.cache {
		if _, ok := repo.(*repositorycache.CachedRepository[*Plan]); !ok {
			cacheService, err := cache.NewCacheService(cache.DefaultConfig())
			if err != nil {
				return nil, fmt.Errorf("plan: cache: %w", err)
			}
			repo = repositorycache.New(repo, cacheService, cache.NewDefaultKeySerializer())
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.SystemClock{}
	}
	idGen := cfg.IDGen
	if idGen == nil {
		idGen = types.UUIDGenerator{}
	}
	return &Catalog{store: repo, clock: clock, idGen: idGen}, nil
}

// NewRecordRepository builds the base go-repository-bun repository.
func NewRecordRepository(db *bun.DB) repository.Repository[*Plan] {
	return repository.NewRepository(db, repository.ModelHandlers[*Plan]{
		NewRecord: func() *Plan { return &Plan{} },
		GetID: func(p *Plan) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Plan, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
	})
}

// Create adds a plan to the catalog.
func (c *Catalog) Create(ctx context.Context, p *Plan) (*Plan, error) {
	if p == nil || strings.TrimSpace(p.Code) == "" || strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: plan code and name required", types.ErrValidation)
	}
	if p.BillingPeriod == "" {
		p.BillingPeriod = PeriodMonthly
	}
	if p.BillingPeriod != PeriodMonthly && p.BillingPeriod != PeriodYearly {
		return nil, fmt.Errorf("%w: unknown billing period %q", types.ErrValidation, p.BillingPeriod)
	}
	if p.ID == uuid.Nil {
		p.ID = c.idGen.UUID()
	}
	now := c.clock.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	created, err := c.store.Create(ctx, p)
	if err != nil {
		if repository.IsDuplicatedKey(err) {
			return nil, fmt.Errorf("%w: plan code %q already exists", types.ErrValidation, p.Code)
		}
		return nil, err
	}
	return created, nil
}

// Get returns a plan by id.
func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (*Plan, error) {
	p, err := c.store.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, fmt.Errorf("plan %s: %w", id, types.ErrNotFound)
		}
		return nil, err
	}
	return p, nil
}

// GetByCode returns a plan by its unique code.
func (c *Catalog) GetByCode(ctx context.Context, code string) (*Plan, error) {
	p, err := c.store.Get(ctx, repository.SelectBy("code", "=", strings.TrimSpace(code)))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, fmt.Errorf("plan %q: %w", code, types.ErrNotFound)
		}
		return nil, err
	}
	return p, nil
}

// List returns every plan ordered by price.
func (c *Catalog) List(ctx context.Context) ([]*Plan, error) {
	rows, _, err := c.store.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.OrderExpr("price_cents ASC, code ASC")
	})
	return rows, err
}

// GetTx reads a plan through the caller's transaction, bypassing the cache.
func (c *Catalog) GetTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Plan, error) {
	p := new(Plan)
	if err := tx.NewSelect().Model(p).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("plan %s: %w", id, types.ErrNotFound)
		}
		return nil, err
	}
	return p, nil
}
