package httptransport

import (
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-tenancy/pkg/types"
)

type actorResponse struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
}

type requestResponse struct {
	IP            string `json:"ip,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type auditEntryResponse struct {
	ID          string          `json:"id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Actor       actorResponse   `json:"actor"`
	Action      string          `json:"action"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	EntityLabel string          `json:"entity_label,omitempty"`
	TenantID    string          `json:"tenant_id,omitempty"`
	Request     requestResponse `json:"request"`
	Reason      string          `json:"reason,omitempty"`
	Before      map[string]any  `json:"before,omitempty"`
	After       map[string]any  `json:"after,omitempty"`
	Changes     []types.Change  `json:"changes,omitempty"`
	Checksum    string          `json:"checksum"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type auditPageResponse struct {
	Entries    []auditEntryResponse `json:"entries"`
	Total      int                  `json:"total"`
	NextOffset int                  `json:"next_offset"`
	HasMore    bool                 `json:"has_more"`
}

type systemLogResponse struct {
	ID            string          `json:"id"`
	EventType     string          `json:"event_type"`
	Category      string          `json:"category"`
	Severity      string          `json:"severity"`
	Status        string          `json:"status"`
	Actor         actorResponse   `json:"actor"`
	TargetType    string          `json:"target_type,omitempty"`
	TargetID      string          `json:"target_id,omitempty"`
	TenantID      string          `json:"tenant_id,omitempty"`
	Request       requestResponse `json:"request"`
	Message       string          `json:"message,omitempty"`
	Context       map[string]any  `json:"context,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	RedactedAt    *time.Time      `json:"redacted_at,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

type systemLogPageResponse struct {
	Entries    []systemLogResponse `json:"entries"`
	Total      int                 `json:"total"`
	NextOffset int                 `json:"next_offset"`
	HasMore    bool                `json:"has_more"`
}

type auditStatsResponse struct {
	Total    int            `json:"total"`
	ByAction map[string]int `json:"by_action"`
}

func toActorResponse(a types.Actor) actorResponse {
	return actorResponse{Type: string(a.Kind), ID: a.ID, Email: a.Email}
}

func toRequestResponse(r types.RequestContext) requestResponse {
	return requestResponse{IP: r.IP, UserAgent: r.UserAgent, RequestID: r.RequestID, CorrelationID: r.CorrelationID}
}

func tenantString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func toAuditEntryResponse(e types.AuditEntry) auditEntryResponse {
	return auditEntryResponse{
		ID:          e.ID.String(),
		OccurredAt:  e.OccurredAt,
		Actor:       toActorResponse(e.Actor),
		Action:      string(e.Action),
		EntityType:  string(e.EntityType),
		EntityID:    e.EntityID,
		EntityLabel: e.EntityLabel,
		TenantID:    tenantString(e.TenantID),
		Request:     toRequestResponse(e.Request),
		Reason:      e.Reason,
		Before:      e.Before,
		After:       e.After,
		Changes:     e.Changes,
		Checksum:    e.Checksum,
		Metadata:    e.Metadata,
		CreatedAt:   e.CreatedAt,
	}
}

func toAuditEntries(entries []types.AuditEntry) []auditEntryResponse {
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditEntryResponse(e))
	}
	return out
}

func toSystemLogResponse(e types.SystemLogEntry) systemLogResponse {
	return systemLogResponse{
		ID:            e.ID.String(),
		EventType:     e.EventType,
		Category:      e.Category,
		Severity:      string(e.Severity),
		Status:        string(e.Status),
		Actor:         toActorResponse(e.Actor),
		TargetType:    e.TargetType,
		TargetID:      e.TargetID,
		TenantID:      tenantString(e.TenantID),
		Request:       toRequestResponse(e.Request),
		Message:       e.Message,
		Context:       e.Context,
		OccurredAt:    e.OccurredAt,
		RedactedAt:    e.RedactedAt,
		CorrelationID: e.CorrelationID,
	}
}

func toSystemLogEntries(entries []types.SystemLogEntry) []systemLogResponse {
	out := make([]systemLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toSystemLogResponse(e))
	}
	return out
}
