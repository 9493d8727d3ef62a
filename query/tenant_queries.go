package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocommand "github.com/goliatone/go-command"
	"github.com/google/uuid"

	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/plan"
	"github.com/goliatone/go-tenancy/subscription"
	"github.com/goliatone/go-tenancy/tenant"
)

// TenantListQuery lists tenants for operator dashboards.
type TenantListQuery struct {
	store *tenant.Store
}

// NewTenantListQuery constructs the list query.
func NewTenantListQuery(store *tenant.Store) *TenantListQuery {
	return &TenantListQuery{store: store}
}

var _ gocommand.Querier[tenant.Filter, tenant.Page] = (*TenantListQuery)(nil)

// Query validates the filter and fetches a page.
func (q *TenantListQuery) Query(ctx context.Context, filter tenant.Filter) (tenant.Page, error) {
	if q.store == nil {
		return tenant.Page{}, types.ErrMissingDB
	}
	if err := filter.Validate(); err != nil {
		return tenant.Page{}, err
	}
	return q.store.List(ctx, filter)
}

// TenantDetailInput addresses a tenant by id or slug.
type TenantDetailInput struct {
	ID   uuid.UUID
	Slug string
}

// Type implements gocommand.Message.
func (TenantDetailInput) Type() string {
	return "query.tenant.detail"
}

// Validate implements gocommand.Message.
func (input TenantDetailInput) Validate() error {
	if input.ID == uuid.Nil && strings.TrimSpace(input.Slug) == "" {
		return fmt.Errorf("%w: tenant id or slug required", types.ErrValidation)
	}
	return nil
}

// TenantDetail is the read model behind a tenant page.
type TenantDetail struct {
	Tenant             *tenant.Tenant             `json:"tenant"`
	Plan               *plan.Plan                 `json:"plan,omitempty"`
	Subscription       *subscription.Subscription `json:"subscription,omitempty"`
	Usage              tenant.Usage               `json:"usage"`
	OnTrial            bool                       `json:"on_trial"`
	DaysUntilTrialEnds *int                       `json:"days_until_trial_ends,omitempty"`
	AllowedTransitions []types.TenantStatus       `json:"allowed_transitions"`
}

// TenantDetailConfig wires the detail query.
type TenantDetailConfig struct {
	Tenants       *tenant.Store
	Subscriptions *subscription.Store
	Plans         *plan.Catalog
	Policy        types.TransitionPolicy[types.TenantStatus]
	Clock         types.Clock
}

// TenantDetailQuery assembles the tenant, its plan, its current
// subscription and its effective limits.
type TenantDetailQuery struct {
	tenants       *tenant.Store
	subscriptions *subscription.Store
	plans         *plan.Catalog
	policy        types.TransitionPolicy[types.TenantStatus]
	clock         types.Clock
}

// NewTenantDetailQuery constructs the detail query.
func NewTenantDetailQuery(cfg TenantDetailConfig) *TenantDetailQuery {
	policy := cfg.Policy
	if policy == nil {
		policy = types.DefaultTenantPolicy()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &TenantDetailQuery{
		tenants:       cfg.Tenants,
		subscriptions: cfg.Subscriptions,
		plans:         cfg.Plans,
		policy:        policy,
		clock:         clock,
	}
}

var _ gocommand.Querier[TenantDetailInput, TenantDetail] = (*TenantDetailQuery)(nil)

// Query loads the detail view.
func (q *TenantDetailQuery) Query(ctx context.Context, input TenantDetailInput) (TenantDetail, error) {
	if q.tenants == nil {
		return TenantDetail{}, types.ErrMissingDB
	}
	if err := input.Validate(); err != nil {
		return TenantDetail{}, err
	}
	var (
		t   *tenant.Tenant
		err error
	)
	if input.ID != uuid.Nil {
		t, err = q.tenants.Get(ctx, input.ID)
	} else {
		t, err = q.tenants.GetBySlug(ctx, strings.TrimSpace(input.Slug))
	}
	if err != nil {
		return TenantDetail{}, err
	}

	now := q.clock.Now().UTC()
	detail := TenantDetail{
		Tenant:             t,
		OnTrial:            t.OnTrial(now),
		DaysUntilTrialEnds: t.DaysUntilTrialEnds(now),
		AllowedTransitions: q.policy.AllowedTargets(t.Status),
	}
	if t.PlanID != uuid.Nil && q.plans != nil {
		p, err := q.plans.Get(ctx, t.PlanID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return TenantDetail{}, err
		}
		detail.Plan = p
	}
	if q.subscriptions != nil {
		sub, err := q.subscriptions.CurrentForTenant(ctx, t.ID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return TenantDetail{}, err
		}
		detail.Subscription = sub
	}
	usage, err := tenant.UsageOf(detail.Plan, t)
	if err != nil {
		return TenantDetail{}, err
	}
	detail.Usage = usage
	return detail, nil
}

// TrialsEndingInput lists trial tenants whose trial ends within Days.
type TrialsEndingInput struct {
	Days       int
	Pagination types.Pagination
}

// Type implements gocommand.Message.
func (TrialsEndingInput) Type() string {
	return "query.tenant.trials_ending"
}

// Validate implements gocommand.Message.
func (input TrialsEndingInput) Validate() error {
	if input.Days <= 0 {
		return fmt.Errorf("%w: days must be positive", types.ErrValidation)
	}
	return nil
}

// TrialsEndingQuery feeds trial expiry reminders.
type TrialsEndingQuery struct {
	store *tenant.Store
	clock types.Clock
}

// NewTrialsEndingQuery constructs the query.
func NewTrialsEndingQuery(store *tenant.Store, clock types.Clock) *TrialsEndingQuery {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &TrialsEndingQuery{store: store, clock: clock}
}

var _ gocommand.Querier[TrialsEndingInput, tenant.Page] = (*TrialsEndingQuery)(nil)

// Query returns trial tenants ending before now plus Days.
func (q *TrialsEndingQuery) Query(ctx context.Context, input TrialsEndingInput) (tenant.Page, error) {
	if q.store == nil {
		return tenant.Page{}, types.ErrMissingDB
	}
	if err := input.Validate(); err != nil {
		return tenant.Page{}, err
	}
	cutoff := q.clock.Now().UTC().Add(time.Duration(input.Days) * 24 * time.Hour)
	return q.store.List(ctx, tenant.Filter{
		Statuses:          []types.TenantStatus{types.TenantTrial},
		TrialEndingBefore: &cutoff,
		Pagination:        input.Pagination,
	})
}
