package syslog

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// Record models the persisted row in system_logs.
type Record struct {
	bun.BaseModel `bun:"table:system_logs"`

	ID            uuid.UUID      `bun:",pk,type:uuid"`
	EventType     string         `bun:"event_type"`
	Category      string         `bun:"category"`
	Severity      string         `bun:"severity"`
	Status        string         `bun:"status"`
	ActorType     string         `bun:"actor_type"`
	ActorID       string         `bun:"actor_id"`
	ActorEmail    string         `bun:"actor_email"`
	TargetType    string         `bun:"target_type"`
	TargetID      string         `bun:"target_id"`
	TenantID      uuid.UUID      `bun:"tenant_id,type:uuid,nullzero"`
	IPAddress     string         `bun:"ip_address"`
	UserAgent     string         `bun:"user_agent"`
	RequestID     string         `bun:"request_id"`
	CorrelationID string         `bun:"correlation_id"`
	Message       string         `bun:"message"`
	Context       map[string]any `bun:"context,type:jsonb"`
	OccurredAt    time.Time      `bun:"occurred_at"`
	RedactedAt    *time.Time     `bun:"redacted_at"`
	CreatedAt     time.Time      `bun:"created_at"`
}

func toRecord(entry types.SystemLogEntry) *Record {
	rec := &Record{
		ID:            entry.ID,
		EventType:     entry.EventType,
		Category:      entry.Category,
		Severity:      string(entry.Severity),
		Status:        string(entry.Status),
		ActorType:     string(entry.Actor.Kind),
		ActorID:       entry.Actor.ID,
		ActorEmail:    entry.Actor.Email,
		TargetType:    entry.TargetType,
		TargetID:      entry.TargetID,
		TenantID:      entry.TenantID,
		IPAddress:     entry.Request.IP,
		UserAgent:     entry.Request.UserAgent,
		RequestID:     entry.Request.RequestID,
		CorrelationID: entry.CorrelationID,
		Message:       entry.Message,
		Context:       cloneMap(entry.Context),
		OccurredAt:    entry.OccurredAt,
		RedactedAt:    entry.RedactedAt,
	}
	if rec.CorrelationID == "" {
		rec.CorrelationID = entry.Request.CorrelationID
	}
	if rec.Context == nil {
		rec.Context = map[string]any{}
	}
	return rec
}

func toEntry(rec *Record) types.SystemLogEntry {
	if rec == nil {
		return types.SystemLogEntry{}
	}
	entry := types.SystemLogEntry{
		ID:         rec.ID,
		EventType:  rec.EventType,
		Category:   rec.Category,
		Severity:   types.Severity(rec.Severity),
		Status:     types.LogStatus(rec.Status),
		Actor:      types.Actor{Kind: types.ActorKind(rec.ActorType), ID: rec.ActorID, Email: rec.ActorEmail},
		TargetType: rec.TargetType,
		TargetID:   rec.TargetID,
		TenantID:   rec.TenantID,
		Request: types.RequestContext{
			IP:            rec.IPAddress,
			UserAgent:     rec.UserAgent,
			RequestID:     rec.RequestID,
			CorrelationID: rec.CorrelationID,
		},
		Message:       rec.Message,
		Context:       cloneMap(rec.Context),
		OccurredAt:    rec.OccurredAt.UTC(),
		CorrelationID: rec.CorrelationID,
	}
	if rec.RedactedAt != nil {
		redacted := rec.RedactedAt.UTC()
		entry.RedactedAt = &redacted
	}
	return entry
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
