package httptransport

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/goliatone/go-tenancy/command"
	"github.com/goliatone/go-tenancy/pkg/authctx"
	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/query"
)

func (h *Handler) handleSystemLogFeed(w http.ResponseWriter, r *http.Request) {
	p := queryParams(r)
	filter := p.systemLogFilter()
	if p.err != nil {
		writeError(w, p.err)
		return
	}
	page, err := h.svc.Queries().SystemLogFeed.Query(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "system log feed failed", err)
		return
	}
	writeJSON(w, http.StatusOK, systemLogPageResponse{
		Entries:    toSystemLogEntries(page.Entries),
		Total:      page.Total,
		NextOffset: page.NextOffset,
		HasMore:    page.HasMore,
	})
}

func (h *Handler) handleSystemLogHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Queries().SystemLogHistory.Query(r.Context(), query.TargetHistoryInput{
		TargetType: chi.URLParam(r, "type"),
		TargetID:   chi.URLParam(r, "id"),
	})
	if err != nil {
		h.fail(w, r, "system log history failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toSystemLogEntries(entries)})
}

func (h *Handler) handleSystemLogRelated(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.svc.Queries().RelatedSystemLog.Query(r.Context(), query.EntryInput{ID: id})
	if err != nil {
		h.fail(w, r, "related system log failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toSystemLogEntries(entries)})
}

type systemLogRequest struct {
	EventType  string         `json:"event_type"`
	Severity   string         `json:"severity"`
	Status     string         `json:"status"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	TenantID   string         `json:"tenant_id"`
	Message    string         `json:"message"`
	Context    map[string]any `json:"context"`
	OccurredAt *time.Time     `json:"occurred_at"`
}

func (h *Handler) handleSystemLogWrite(w http.ResponseWriter, r *http.Request) {
	var req systemLogRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, err := authctx.ResolveActor(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	rc := authctx.RequestFromContext(r.Context())
	entry := types.SystemLogEntry{
		EventType:     strings.TrimSpace(req.EventType),
		Severity:      types.Severity(strings.TrimSpace(req.Severity)),
		Status:        types.LogStatus(strings.TrimSpace(req.Status)),
		Actor:         actor,
		TargetType:    strings.TrimSpace(req.TargetType),
		TargetID:      strings.TrimSpace(req.TargetID),
		Request:       rc,
		Message:       req.Message,
		Context:       withClient(req.Context, rc.UserAgent),
		CorrelationID: rc.CorrelationID,
	}
	if req.TenantID != "" {
		tenantID, err := uuid.Parse(req.TenantID)
		if err != nil {
			writeError(w, badRequest("invalid tenant_id"))
			return
		}
		entry.TenantID = tenantID
	}
	if req.OccurredAt != nil {
		entry.OccurredAt = req.OccurredAt.UTC()
	}

	var id uuid.UUID
	if err := h.svc.Commands().LogSystemEvent.Execute(r.Context(), command.SystemLogInput{Entry: entry, Result: &id}); err != nil {
		h.fail(w, r, "system log write failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}
