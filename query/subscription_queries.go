package query

import (
	"context"
	"errors"
	"fmt"

	gocommand "github.com/goliatone/go-command"
	"github.com/google/uuid"

	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/plan"
	"github.com/goliatone/go-tenancy/subscription"
)

// SubscriptionListQuery lists subscriptions. Filter.OnTrialAt,
// ExpiringWithinDays and WithPendingChanges cover the read-side predicates.
type SubscriptionListQuery struct {
	store *subscription.Store
	clock types.Clock
}

// NewSubscriptionListQuery constructs the list query.
func NewSubscriptionListQuery(store *subscription.Store, clock types.Clock) *SubscriptionListQuery {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &SubscriptionListQuery{store: store, clock: clock}
}

var _ gocommand.Querier[subscription.Filter, subscription.Page] = (*SubscriptionListQuery)(nil)

// Query fetches a page. Expiry windows default to the current time.
func (q *SubscriptionListQuery) Query(ctx context.Context, filter subscription.Filter) (subscription.Page, error) {
	if q.store == nil {
		return subscription.Page{}, types.ErrMissingDB
	}
	if filter.ExpiringWithinDays > 0 && filter.Now == nil {
		now := q.clock.Now().UTC()
		filter.Now = &now
	}
	if err := filter.Validate(); err != nil {
		return subscription.Page{}, err
	}
	return q.store.List(ctx, filter)
}

// SubscriptionInput addresses one subscription.
type SubscriptionInput struct {
	ID uuid.UUID
}

// Type implements gocommand.Message.
func (SubscriptionInput) Type() string {
	return "query.subscription.detail"
}

// Validate implements gocommand.Message.
func (input SubscriptionInput) Validate() error {
	if input.ID == uuid.Nil {
		return fmt.Errorf("%w: subscription id required", types.ErrValidation)
	}
	return nil
}

// SubscriptionDetail is the read model behind a subscription page.
type SubscriptionDetail struct {
	Subscription        *subscription.Subscription `json:"subscription"`
	Plan                *plan.Plan                 `json:"plan,omitempty"`
	PendingPlan         *plan.Plan                 `json:"pending_plan,omitempty"`
	OnTrial             bool                       `json:"on_trial"`
	DaysUntilPeriodEnds *int                       `json:"days_until_period_ends,omitempty"`
	History             []subscription.History     `json:"history"`
}

// SubscriptionDetailQuery loads a subscription with its plans and history.
type SubscriptionDetailQuery struct {
	store *subscription.Store
	plans *plan.Catalog
	clock types.Clock
}

// NewSubscriptionDetailQuery constructs the detail query.
func NewSubscriptionDetailQuery(store *subscription.Store, plans *plan.Catalog, clock types.Clock) *SubscriptionDetailQuery {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &SubscriptionDetailQuery{store: store, plans: plans, clock: clock}
}

var _ gocommand.Querier[SubscriptionInput, SubscriptionDetail] = (*SubscriptionDetailQuery)(nil)

// Query loads the detail view.
func (q *SubscriptionDetailQuery) Query(ctx context.Context, input SubscriptionInput) (SubscriptionDetail, error) {
	if q.store == nil {
		return SubscriptionDetail{}, types.ErrMissingDB
	}
	if err := input.Validate(); err != nil {
		return SubscriptionDetail{}, err
	}
	sub, err := q.store.Get(ctx, input.ID)
	if err != nil {
		return SubscriptionDetail{}, err
	}
	history, err := q.store.History(ctx, sub.ID)
	if err != nil {
		return SubscriptionDetail{}, err
	}
	now := q.clock.Now().UTC()
	detail := SubscriptionDetail{
		Subscription:        sub,
		OnTrial:             sub.OnTrial(now),
		DaysUntilPeriodEnds: sub.DaysUntilPeriodEnds(now),
		History:             history,
	}
	if q.plans == nil {
		return detail, nil
	}
	if detail.Plan, err = q.lookupPlan(ctx, sub.PlanID); err != nil {
		return SubscriptionDetail{}, err
	}
	if sub.HasPendingChange() {
		if detail.PendingPlan, err = q.lookupPlan(ctx, sub.PendingPlanID); err != nil {
			return SubscriptionDetail{}, err
		}
	}
	return detail, nil
}

func (q *SubscriptionDetailQuery) lookupPlan(ctx context.Context, id uuid.UUID) (*plan.Plan, error) {
	p, err := q.plans.Get(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// PlanListInput lists the plan catalog.
type PlanListInput struct{}

// Type implements gocommand.Message.
func (PlanListInput) Type() string {
	return "query.plan.list"
}

// Validate implements gocommand.Message.
func (PlanListInput) Validate() error {
	return nil
}

// PlanListQuery returns the catalog ordered by price.
type PlanListQuery struct {
	plans *plan.Catalog
}

// NewPlanListQuery constructs the catalog query.
func NewPlanListQuery(plans *plan.Catalog) *PlanListQuery {
	return &PlanListQuery{plans: plans}
}

var _ gocommand.Querier[PlanListInput, []*plan.Plan] = (*PlanListQuery)(nil)

// Query lists plans.
func (q *PlanListQuery) Query(ctx context.Context, _ PlanListInput) ([]*plan.Plan, error) {
	if q.plans == nil {
		return nil, types.ErrMissingDB
	}
	return q.plans.List(ctx)
}
