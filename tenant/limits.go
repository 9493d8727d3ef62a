package tenant

import (
	"encoding/json"
	"fmt"

	opts "github.com/goliatone/go-options"

	"github.com/goliatone/go-tenancy/plan"
)

// Limit keys shared by the plan and tenant layers.
const (
	LimitSeats      = "max_seats"
	LimitStorageMB  = "max_storage_mb"
	LimitAIRequests = "max_ai_requests"
)

// Limits is the resolved usage envelope for a tenant.
type Limits struct {
	MaxSeats      int   `json:"max_seats"`
	MaxStorageMB  int64 `json:"max_storage_mb"`
	MaxAIRequests int64 `json:"max_ai_requests"`
}

// Usage reports consumption against the effective limits.
type Usage struct {
	Limits         Limits `json:"limits"`
	SeatsUsed      int    `json:"seats_used"`
	StorageUsedMB  int64  `json:"storage_used_mb"`
	AIRequestsUsed int64  `json:"ai_requests_used"`
}

// SeatsAvailable returns the remaining seats, never negative.
func (u Usage) SeatsAvailable() int {
	if left := u.Limits.MaxSeats - u.SeatsUsed; left > 0 {
		return left
	}
	return 0
}

// OverLimit reports whether any counter exceeds its limit.
func (u Usage) OverLimit() bool {
	return u.SeatsUsed > u.Limits.MaxSeats ||
		u.StorageUsedMB > u.Limits.MaxStorageMB ||
		u.AIRequestsUsed > u.Limits.MaxAIRequests
}

// EffectiveLimits merges plan defaults with the tenant overrides. Plan values
// form the system layer, overrides the tenant layer.
func EffectiveLimits(p *plan.Plan, t *Tenant) (Limits, error) {
	system := opts.NewScope("plan", opts.ScopePrioritySystem,
		opts.WithScopeLabel("Plan defaults"),
		opts.WithScopeMetadata(map[string]any{"plan_id": planID(p)}))
	layers := []opts.Layer[map[string]any]{
		opts.NewLayer(system, planLayer(p), opts.WithSnapshotID[map[string]any](system.Name)),
	}
	if overrides := overrideLayer(t); len(overrides) > 0 {
		scope := opts.NewScope("tenant", opts.ScopePriorityTenant,
			opts.WithScopeLabel("Tenant overrides"),
			opts.WithScopeMetadata(map[string]any{"tenant_id": t.ID.String()}))
		layers = append(layers, opts.NewLayer(scope, overrides, opts.WithSnapshotID[map[string]any](scope.Name)))
	}

	stack, err := opts.NewStack(layers...)
	if err != nil {
		return Limits{}, err
	}
	merged, err := stack.Merge()
	if err != nil {
		return Limits{}, err
	}
	return limitsFromMap(merged.Value)
}

// UsageOf resolves limits and pairs them with the tenant counters.
func UsageOf(p *plan.Plan, t *Tenant) (Usage, error) {
	limits, err := EffectiveLimits(p, t)
	if err != nil {
		return Usage{}, err
	}
	return Usage{
		Limits:         limits,
		SeatsUsed:      t.SeatsUsed,
		StorageUsedMB:  t.StorageUsedMB,
		AIRequestsUsed: t.AIRequestsUsed,
	}, nil
}

func planID(p *plan.Plan) string {
	if p == nil {
		return ""
	}
	return p.ID.String()
}

func planLayer(p *plan.Plan) map[string]any {
	if p == nil {
		return map[string]any{LimitSeats: 0, LimitStorageMB: int64(0), LimitAIRequests: int64(0)}
	}
	return map[string]any{
		LimitSeats:      p.MaxSeats,
		LimitStorageMB:  p.MaxStorageMB,
		LimitAIRequests: p.MaxAIRequests,
	}
}

func overrideLayer(t *Tenant) map[string]any {
	if t == nil {
		return nil
	}
	out := map[string]any{}
	if t.MaxSeats != nil {
		out[LimitSeats] = *t.MaxSeats
	}
	if t.MaxStorageMB != nil {
		out[LimitStorageMB] = *t.MaxStorageMB
	}
	if t.MaxAIRequests != nil {
		out[LimitAIRequests] = *t.MaxAIRequests
	}
	return out
}

func limitsFromMap(values map[string]any) (Limits, error) {
	seats, err := toInt64(values[LimitSeats])
	if err != nil {
		return Limits{}, fmt.Errorf("tenant: %s: %w", LimitSeats, err)
	}
	storage, err := toInt64(values[LimitStorageMB])
	if err != nil {
		return Limits{}, fmt.Errorf("tenant: %s: %w", LimitStorageMB, err)
	}
	ai, err := toInt64(values[LimitAIRequests])
	if err != nil {
		return Limits{}, fmt.Errorf("tenant: %s: %w", LimitAIRequests, err)
	}
	return Limits{MaxSeats: int(seats), MaxStorageMB: storage, MaxAIRequests: ai}, nil
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	default:
		return 0, fmt.Errorf("unexpected limit type %T", value)
	}
}
