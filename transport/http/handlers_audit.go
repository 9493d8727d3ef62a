package httptransport

import (
	"encoding/json"
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

func (h *Handler) handleAuditFeed(w http.ResponseWriter, r *http.Request) {
	p := queryParams(r)
	filter := p.auditFilter()
	if p.err != nil {
		writeError(w, p.err)
		return
	}
	page, err := h.svc.Queries().AuditFeed.Query(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "audit feed failed", err)
		return
	}
	writeJSON(w, http.StatusOK, auditPageResponse{
		Entries:    toAuditEntries(page.Entries),
		Total:      page.Total,
		NextOffset: page.NextOffset,
		HasMore:    page.HasMore,
	})
}

func (h *Handler) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	p := queryParams(r)
	filter := p.auditFilter()
	if p.err != nil {
		writeError(w, p.err)
		return
	}
	stats, err := h.svc.Queries().AuditStats.Query(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "audit stats failed", err)
		return
	}
	byAction := make(map[string]int, len(stats.ByAction))
	for action, count := range stats.ByAction {
		byAction[string(action)] = count
	}
	writeJSON(w, http.StatusOK, auditStatsResponse{Total: stats.Total, ByAction: byAction})
}

// handleAuditExport streams matching entries as newline delimited JSON. Once
// the first line is written errors can only end the stream.
func (h *Handler) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	p := queryParams(r)
	filter := p.auditFilter()
	if p.err == nil {
		p.err = filter.Validate()
	}
	if p.err != nil {
		writeError(w, p.err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	started := false
	err := h.svc.Ledger().Export(r.Context(), filter, func(entry types.AuditEntry) error {
		if !started {
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(toAuditEntryResponse(entry)); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		if started {
			h.logger.Error("audit export interrupted", err, "request_id", authctx.RequestFromContext(r.Context()).RequestID)
			return
		}
		h.fail(w, r, "audit export failed", err)
		return
	}
	if !started {
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Queries().EntityHistory.Query(r.Context(), query.EntityHistoryInput{
		EntityType: types.EntityType(chi.URLParam(r, "type")),
		EntityID:   chi.URLParam(r, "id"),
	})
	if err != nil {
		h.fail(w, r, "entity history failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toAuditEntries(entries)})
}

type resolvedEntryResponse struct {
	Entry  auditEntryResponse `json:"entry"`
	Entity any                `json:"entity,omitempty"`
}

func (h *Handler) handleAuditEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	resolved, err := h.svc.Queries().AuditEntity.Query(r.Context(), query.EntryInput{ID: id})
	if err != nil {
		h.fail(w, r, "audit entry failed", err)
		return
	}
	writeJSON(w, http.StatusOK, resolvedEntryResponse{
		Entry:  toAuditEntryResponse(resolved.Entry),
		Entity: resolved.Entity,
	})
}

func (h *Handler) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.svc.Queries().VerifyAudit.Query(r.Context(), query.EntryInput{ID: id})
	if err != nil {
		h.fail(w, r, "audit verify failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAuditRelated(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.svc.Queries().RelatedAudit.Query(r.Context(), query.EntryInput{ID: id})
	if err != nil {
		h.fail(w, r, "related audit failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toAuditEntries(entries)})
}

type auditRecordRequest struct {
	Action      string         `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	EntityLabel string         `json:"entity_label"`
	TenantID    string         `json:"tenant_id"`
	Reason      string         `json:"reason"`
	Before      map[string]any `json:"before"`
	After       map[string]any `json:"after"`
	Metadata    map[string]any `json:"metadata"`
	OccurredAt  *time.Time     `json:"occurred_at"`
}

func (req auditRecordRequest) toEntry(r *http.Request) (types.AuditEntry, error) {
	actor, err := authctx.ResolveActor(r.Context())
	if err != nil {
		return types.AuditEntry{}, err
	}
	rc := authctx.RequestFromContext(r.Context())
	entry := types.AuditEntry{
		Actor:       actor,
		Action:      types.Action(strings.TrimSpace(req.Action)),
		EntityType:  types.EntityType(strings.TrimSpace(req.EntityType)),
		EntityID:    strings.TrimSpace(req.EntityID),
		EntityLabel: strings.TrimSpace(req.EntityLabel),
		Request:     rc,
		Reason:      strings.TrimSpace(req.Reason),
		Before:      req.Before,
		After:       req.After,
		Metadata:    withClient(req.Metadata, rc.UserAgent),
	}
	if req.TenantID != "" {
		tenantID, err := uuid.Parse(req.TenantID)
		if err != nil {
			return types.AuditEntry{}, badRequest("invalid tenant_id")
		}
		entry.TenantID = tenantID
	}
	if req.OccurredAt != nil {
		entry.OccurredAt = req.OccurredAt.UTC()
	}
	return entry, nil
}

func (h *Handler) handleAuditRecord(w http.ResponseWriter, r *http.Request) {
	var req auditRecordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := req.toEntry(r)
	if err != nil {
		writeError(w, err)
		return
	}
	saved := types.AuditEntry{}
	if err := h.svc.Commands().RecordAudit.Execute(r.Context(), command.AuditRecordInput{Entry: entry, Result: &saved}); err != nil {
		h.fail(w, r, "audit record failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuditEntryResponse(saved))
}

// withClient adds the parsed user agent under the "client" key unless the
// caller already supplied one.
func withClient(meta map[string]any, userAgent string) map[string]any {
	client := authctx.ParseUserAgent(userAgent).Map()
	if client == nil {
		return meta
	}
	if meta == nil {
		meta = map[string]any{}
	}
	if _, ok := meta["client"]; !ok {
		meta["client"] = client
	}
	return meta
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		writeError(w, badRequest("invalid request body").WithTextCode(textCodeBadEncoding))
		return false
	}
	return true
}

// fail logs unexpected errors and writes the mapped response. Expected
// outcomes such as validation failures log at debug.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	rich := toRichError(err)
	requestID := authctx.RequestFromContext(r.Context()).RequestID
	if rich.Code >= http.StatusInternalServerError {
		h.logger.Error(msg, err, "request_id", requestID, "path", r.URL.Path)
	} else {
		h.logger.Debug(msg, "error", err.Error(), "request_id", requestID, "path", r.URL.Path)
	}
	writeError(w, rich)
}
