package httptransport

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// params accumulates the first parse failure so handlers can read every
// query parameter before checking for errors.
type params struct {
	values url.Values
	err    error
}

func queryParams(r *http.Request) *params {
	return &params{values: r.URL.Query()}
}

func (p *params) fail(message string) {
	if p.err == nil {
		p.err = badRequest(message)
	}
}

func (p *params) str(name string) string {
	return strings.TrimSpace(p.values.Get(name))
}

func (p *params) list(name string) []string {
	var out []string
	for _, raw := range p.values[name] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (p *params) integer(name string) int {
	raw := p.str(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail("invalid integer for " + name)
		return 0
	}
	return n
}

func (p *params) boolean(name string) bool {
	raw := p.str(name)
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail("invalid boolean for " + name)
		return false
	}
	return b
}

func (p *params) id(name string) uuid.UUID {
	raw := p.str(name)
	if raw == "" {
		return uuid.Nil
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		p.fail("invalid uuid for " + name)
		return uuid.Nil
	}
	return parsed
}

// time accepts RFC 3339 timestamps or plain YYYY-MM-DD dates.
func (p *params) time(name string) *time.Time {
	raw := p.str(name)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if ts, err := time.Parse(layout, raw); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	p.fail("invalid time for " + name)
	return nil
}

func (p *params) pagination() types.Pagination {
	return types.Pagination{Limit: p.integer("limit"), Offset: p.integer("offset")}
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, badRequest("invalid " + name)
	}
	return parsed, nil
}

func (p *params) auditFilter() types.AuditFilter {
	return types.AuditFilter{
		EntityType:    types.EntityType(p.str("entity_type")),
		EntityID:      p.str("entity_id"),
		Action:        types.Action(p.str("action")),
		ActorID:       p.str("actor_id"),
		TenantID:      p.id("tenant_id"),
		CorrelationID: p.str("correlation_id"),
		From:          p.time("from"),
		To:            p.time("to"),
		Ascending:     strings.EqualFold(p.str("order"), "asc"),
		Pagination:    p.pagination(),
	}
}

func (p *params) systemLogFilter() types.SystemLogFilter {
	filter := types.SystemLogFilter{
		EventType:       p.str("event_type"),
		Category:        p.str("category"),
		Status:          types.LogStatus(p.str("status")),
		ActorID:         p.str("actor_id"),
		TargetType:      p.str("target_type"),
		TargetID:        p.str("target_id"),
		TenantID:        p.id("tenant_id"),
		CorrelationID:   p.str("correlation_id"),
		Since:           p.time("since"),
		Until:           p.time("until"),
		RecentHours:     p.integer("recent_hours"),
		CriticalOrError: p.boolean("critical_or_error"),
		Pagination:      p.pagination(),
	}
	for _, severity := range p.list("severity") {
		filter.Severities = append(filter.Severities, types.Severity(severity))
	}
	return filter
}
