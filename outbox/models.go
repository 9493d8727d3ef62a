package outbox

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// Entry is a pending event in the outbox table. It is written in the same
// transaction as the lifecycle change it announces.
type Entry struct {
	bun.BaseModel `bun:"table:outbox_events"`

	ID            uuid.UUID      `bun:",pk,type:uuid"`
	AggregateType string         `bun:"aggregate_type"`
	AggregateID   string         `bun:"aggregate_id"`
	EventType     string         `bun:"event_type"`
	Payload       map[string]any `bun:"payload,type:jsonb"`
	Attempts      int            `bun:"attempts"`
	LastError     *string        `bun:"last_error"`
	CreatedAt     time.Time      `bun:"created_at"`
	ProcessedAt   *time.Time     `bun:"processed_at"` // nil until published
}

// IsPending reports whether the entry still awaits publishing.
func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

// NewEntry creates an outbox entry with a generated id.
func NewEntry(aggregateType, aggregateID, eventType string, payload map[string]any) *Entry {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Entry{
		ID:            types.UUIDGenerator{}.UUID(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
}

// EventType names the published event for a ledger entry, e.g.
// "tenant.suspended".
func EventType(entityType types.EntityType, action types.Action) string {
	return strings.ToLower(string(entityType)) + "." + string(action)
}

// FromAudit builds the outbox entry announcing a committed ledger entry.
// Snapshots stay in the ledger; consumers fetch them by audit id.
func FromAudit(entry types.AuditEntry) *Entry {
	payload := map[string]any{
		"audit_id":    entry.ID.String(),
		"action":      string(entry.Action),
		"entity_type": string(entry.EntityType),
		"entity_id":   entry.EntityID,
		"actor_type":  string(entry.Actor.Kind),
		"actor_id":    entry.Actor.ID,
		"occurred_at": entry.OccurredAt.UTC().Format(time.RFC3339Nano),
		"checksum":    entry.Checksum,
	}
	if entry.TenantID != uuid.Nil {
		payload["tenant_id"] = entry.TenantID.String()
	}
	if entry.Request.CorrelationID != "" {
		payload["correlation_id"] = entry.Request.CorrelationID
	}
	if entry.Reason != "" {
		payload["reason"] = entry.Reason
	}
	out := NewEntry(string(entry.EntityType), entry.EntityID, EventType(entry.EntityType, entry.Action), payload)
	out.CreatedAt = entry.OccurredAt.UTC()
	return out
}
