package types

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TenantStatus is the billing status of a tenant. Exactly one at a time.
type TenantStatus string

const (
	TenantTrial     TenantStatus = "trial"
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantOverdue   TenantStatus = "overdue"
	TenantCancelled TenantStatus = "cancelled"
)

// ProvisioningStatus tracks infrastructure readiness independently of
// billing status.
type ProvisioningStatus string

const (
	ProvisioningPending ProvisioningStatus = "pending"
	ProvisioningRunning ProvisioningStatus = "running"
	ProvisioningReady   ProvisioningStatus = "ready"
	ProvisioningFailed  ProvisioningStatus = "failed"
)

// Valid reports whether the provisioning status is known.
func (s ProvisioningStatus) Valid() bool {
	switch s {
	case ProvisioningPending, ProvisioningRunning, ProvisioningReady, ProvisioningFailed:
		return true
	}
	return false
}

// SubscriptionStatus is the primary status of a subscription.
type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionOverdue   SubscriptionStatus = "overdue"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// ChangeType selects when a scheduled plan change applies.
type ChangeType string

const (
	ChangeImmediate  ChangeType = "immediate"
	ChangeNextPeriod ChangeType = "next_period"
)

// Valid reports whether the change type is known.
func (c ChangeType) Valid() bool {
	return c == ChangeImmediate || c == ChangeNextPeriod
}

// HistoryEvent is the subscription scoped event stream vocabulary.
type HistoryEvent string

const (
	HistoryCreated            HistoryEvent = "created"
	HistoryStatusChanged      HistoryEvent = "status_changed"
	HistoryPlanChanged        HistoryEvent = "plan_changed"
	HistoryRenewed            HistoryEvent = "renewed"
	HistoryCancelled          HistoryEvent = "cancelled"
	HistoryReactivated        HistoryEvent = "reactivated"
	HistoryTrialStarted       HistoryEvent = "trial_started"
	HistoryTrialEnded         HistoryEvent = "trial_ended"
	HistoryUpgradeScheduled   HistoryEvent = "upgrade_scheduled"
	HistoryDowngradeScheduled HistoryEvent = "downgrade_scheduled"
	HistoryChangeCancelled    HistoryEvent = "change_cancelled"
)

// TransitionEvent is emitted after a tenant or subscription transition
// commits.
type TransitionEvent struct {
	EntityType EntityType
	EntityID   uuid.UUID
	TenantID   uuid.UUID
	Action     Action
	FromState  string
	ToState    string
	Actor      Actor
	Reason     string
	AuditID    uuid.UUID
	OccurredAt time.Time
}

// Hooks groups optional callbacks invoked after key workflows commit. They
// run outside the transaction so slow collaborators never hold row locks.
type Hooks struct {
	AfterTenantTransition       func(context.Context, TransitionEvent)
	AfterSubscriptionTransition func(context.Context, TransitionEvent)
	AfterAudit                  func(context.Context, AuditEntry)
}

// DaysUntil returns the signed number of whole days from now until target.
// Negative values mean the target passed that many days ago.
func DaysUntil(now, target time.Time) int {
	now = now.UTC()
	target = target.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}
