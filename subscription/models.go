package subscription

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// Subscription binds a tenant to a plan for a billing period. The pending
// fields form a second layer: a scheduled plan change that has not applied.
type Subscription struct {
	bun.BaseModel `bun:"table:subscriptions"`

	ID                 uuid.UUID                `bun:",pk,type:uuid" json:"id"`
	TenantID           uuid.UUID                `bun:"tenant_id,type:uuid" json:"tenant_id"`
	PlanID             uuid.UUID                `bun:"plan_id,type:uuid" json:"plan_id"`
	Status             types.SubscriptionStatus `bun:"status" json:"status"`
	TrialEndsAt        *time.Time               `bun:"trial_ends_at" json:"trial_ends_at,omitempty"`
	CurrentPeriodStart *time.Time               `bun:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time               `bun:"current_period_end" json:"current_period_end,omitempty"`
	AutoRenew          bool                     `bun:"auto_renew" json:"auto_renew"`
	PendingPlanID      uuid.UUID                `bun:"pending_plan_id,type:uuid,nullzero" json:"pending_plan_id,omitempty"`
	ChangeEffectiveAt  *time.Time               `bun:"change_effective_at" json:"change_effective_at,omitempty"`
	ChangeType         types.ChangeType         `bun:"change_type,nullzero" json:"change_type,omitempty"`
	CancelledAt        *time.Time               `bun:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason *string                  `bun:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledBy        *string                  `bun:"cancelled_by" json:"cancelled_by,omitempty"`
	CreatedAt          time.Time                `bun:"created_at" json:"created_at"`
	UpdatedAt          time.Time                `bun:"updated_at" json:"updated_at"`
}

// HasPendingChange reports whether a plan change is scheduled.
func (s *Subscription) HasPendingChange() bool {
	return s != nil && s.PendingPlanID != uuid.Nil
}

// ClearPendingChange voids the pending layer. The three fields move together.
func (s *Subscription) ClearPendingChange() {
	s.PendingPlanID = uuid.Nil
	s.ChangeEffectiveAt = nil
	s.ChangeType = ""
}

// OnTrial reports whether the subscription is trialing with a future trial
// end.
func (s *Subscription) OnTrial(now time.Time) bool {
	return s != nil && s.Status == types.SubscriptionTrial && s.TrialEndsAt != nil && s.TrialEndsAt.After(now)
}

// ExpiringSoon reports whether the current period ends within days of now
// and will not renew on its own.
func (s *Subscription) ExpiringSoon(days int, now time.Time) bool {
	if s == nil || s.CurrentPeriodEnd == nil || s.AutoRenew {
		return false
	}
	if s.Status != types.SubscriptionActive && s.Status != types.SubscriptionTrial {
		return false
	}
	left := types.DaysUntil(now, *s.CurrentPeriodEnd)
	return left >= 0 && left <= days
}

// DaysUntilPeriodEnds returns the signed day difference to the current
// period end, or nil when no period is set.
func (s *Subscription) DaysUntilPeriodEnds(now time.Time) *int {
	if s == nil || s.CurrentPeriodEnd == nil {
		return nil
	}
	days := types.DaysUntil(now, *s.CurrentPeriodEnd)
	return &days
}

// Snapshot captures the fields recorded in ledger before/after states.
func (s *Subscription) Snapshot() map[string]any {
	if s == nil {
		return nil
	}
	snap := map[string]any{
		"status":     string(s.Status),
		"plan_id":    s.PlanID.String(),
		"auto_renew": s.AutoRenew,
	}
	if s.PendingPlanID != uuid.Nil {
		snap["pending_plan_id"] = s.PendingPlanID.String()
		snap["change_type"] = string(s.ChangeType)
	}
	putTime(snap, "change_effective_at", s.ChangeEffectiveAt)
	putTime(snap, "trial_ends_at", s.TrialEndsAt)
	putTime(snap, "current_period_end", s.CurrentPeriodEnd)
	putTime(snap, "cancelled_at", s.CancelledAt)
	if s.CancellationReason != nil {
		snap["cancellation_reason"] = *s.CancellationReason
	}
	if s.CancelledBy != nil {
		snap["cancelled_by"] = *s.CancelledBy
	}
	return snap
}

// Clone returns a shallow copy for before/after comparisons.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// History is one append-only row of the subscription event stream.
type History struct {
	bun.BaseModel `bun:"table:subscription_history"`

	ID             uuid.UUID          `bun:",pk,type:uuid" json:"id"`
	SubscriptionID uuid.UUID          `bun:"subscription_id,type:uuid" json:"subscription_id"`
	TenantID       uuid.UUID          `bun:"tenant_id,type:uuid" json:"tenant_id"`
	EventType      types.HistoryEvent `bun:"event_type" json:"event_type"`
	FromStatus     string             `bun:"from_status" json:"from_status,omitempty"`
	ToStatus       string             `bun:"to_status" json:"to_status,omitempty"`
	FromPlanID     uuid.UUID          `bun:"from_plan_id,type:uuid,nullzero" json:"from_plan_id,omitempty"`
	ToPlanID       uuid.UUID          `bun:"to_plan_id,type:uuid,nullzero" json:"to_plan_id,omitempty"`
	ActorType      string             `bun:"actor_type" json:"actor_type"`
	ActorID        string             `bun:"actor_id" json:"actor_id,omitempty"`
	Reason         *string            `bun:"reason" json:"reason,omitempty"`
	Metadata       map[string]any     `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	OccurredAt     time.Time          `bun:"occurred_at" json:"occurred_at"`
	CreatedAt      time.Time          `bun:"created_at" json:"created_at"`
}

func putTime(dst map[string]any, key string, value *time.Time) {
	if value != nil {
		dst[key] = value.UTC().Format(time.RFC3339Nano)
	}
}
