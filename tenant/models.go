package tenant

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// Tenant is a customer account on the platform. Billing status and
// provisioning status evolve independently.
type Tenant struct {
	bun.BaseModel `bun:"table:tenants"`

	ID                 uuid.UUID                `bun:",pk,type:uuid" json:"id"`
	Name               string                   `bun:"name" json:"name"`
	Slug               string                   `bun:"slug" json:"slug"`
	Domain             string                   `bun:"domain" json:"domain,omitempty"`
	PlanID             uuid.UUID                `bun:"plan_id,type:uuid,nullzero" json:"plan_id,omitempty"`
	Status             types.TenantStatus       `bun:"status" json:"status"`
	ProvisioningStatus types.ProvisioningStatus `bun:"provisioning_status" json:"provisioning_status"`
	TrialEndsAt        *time.Time               `bun:"trial_ends_at" json:"trial_ends_at,omitempty"`
	OverdueSince       *time.Time               `bun:"overdue_since" json:"overdue_since,omitempty"`
	SuspendedAt        *time.Time               `bun:"suspended_at" json:"suspended_at,omitempty"`
	SuspendedReason    *string                  `bun:"suspended_reason" json:"suspended_reason,omitempty"`
	SuspendedBy        *string                  `bun:"suspended_by" json:"suspended_by,omitempty"`
	CancelledAt        *time.Time               `bun:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason *string                  `bun:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledBy        *string                  `bun:"cancelled_by" json:"cancelled_by,omitempty"`
	SeatsUsed          int                      `bun:"seats_used" json:"seats_used"`
	StorageUsedMB      int64                    `bun:"storage_used_mb" json:"storage_used_mb"`
	AIRequestsUsed     int64                    `bun:"ai_requests_used" json:"ai_requests_used"`
	MaxSeats           *int                     `bun:"max_seats" json:"max_seats,omitempty"`
	MaxStorageMB       *int64                   `bun:"max_storage_mb" json:"max_storage_mb,omitempty"`
	MaxAIRequests      *int64                   `bun:"max_ai_requests" json:"max_ai_requests,omitempty"`
	ProvisionedAt      *time.Time               `bun:"provisioned_at" json:"provisioned_at,omitempty"`
	ProvisioningError  *string                  `bun:"provisioning_error" json:"provisioning_error,omitempty"`
	LastHeartbeatAt    *time.Time               `bun:"last_heartbeat_at" json:"last_heartbeat_at,omitempty"`
	HealthData         map[string]any           `bun:"health_data,type:jsonb" json:"health_data,omitempty"`
	Metadata           map[string]any           `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt          time.Time                `bun:"created_at" json:"created_at"`
	UpdatedAt          time.Time                `bun:"updated_at" json:"updated_at"`
}

// OnTrial reports whether the tenant is in trial with a trial end still in
// the future.
func (t *Tenant) OnTrial(now time.Time) bool {
	return t != nil && t.Status == types.TenantTrial && t.TrialEndsAt != nil && t.TrialEndsAt.After(now)
}

// DaysUntilTrialEnds returns the signed day difference to trial end, or nil
// when the tenant has no trial end.
func (t *Tenant) DaysUntilTrialEnds(now time.Time) *int {
	if t == nil || t.TrialEndsAt == nil {
		return nil
	}
	days := types.DaysUntil(now, *t.TrialEndsAt)
	return &days
}

// Snapshot captures the lifecycle relevant fields for ledger before/after
// states.
func (t *Tenant) Snapshot() map[string]any {
	if t == nil {
		return nil
	}
	snap := map[string]any{
		"status":              string(t.Status),
		"provisioning_status": string(t.ProvisioningStatus),
	}
	if t.PlanID != uuid.Nil {
		snap["plan_id"] = t.PlanID.String()
	}
	putTime(snap, "trial_ends_at", t.TrialEndsAt)
	putTime(snap, "overdue_since", t.OverdueSince)
	putTime(snap, "suspended_at", t.SuspendedAt)
	putString(snap, "suspended_reason", t.SuspendedReason)
	putString(snap, "suspended_by", t.SuspendedBy)
	putTime(snap, "cancelled_at", t.CancelledAt)
	putString(snap, "cancellation_reason", t.CancellationReason)
	putString(snap, "cancelled_by", t.CancelledBy)
	putTime(snap, "provisioned_at", t.ProvisionedAt)
	putString(snap, "provisioning_error", t.ProvisioningError)
	return snap
}

// Clone returns a deep enough copy for before/after comparisons.
func (t *Tenant) Clone() *Tenant {
	if t == nil {
		return nil
	}
	cp := *t
	cp.HealthData = cloneMap(t.HealthData)
	cp.Metadata = cloneMap(t.Metadata)
	return &cp
}

func putTime(dst map[string]any, key string, value *time.Time) {
	if value != nil {
		dst[key] = value.UTC().Format(time.RFC3339Nano)
	}
}

func putString(dst map[string]any, key string, value *string) {
	if value != nil {
		dst[key] = *value
	}
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
