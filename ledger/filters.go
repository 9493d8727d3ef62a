package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/pkg/types"
)

func applyAuditFilter(q *bun.SelectQuery, filter types.AuditFilter) *bun.SelectQuery {
	if filter.EntityType != "" {
		q = q.Where("entity_type = ?", string(filter.EntityType))
		if filter.EntityID != "" {
			q = q.Where("entity_id = ?", filter.EntityID)
		}
	}
	if filter.Action != "" {
		q = q.Where("action = ?", string(filter.Action))
	}
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.TenantID != uuid.Nil {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.CorrelationID != "" {
		q = q.Where("correlation_id = ?", filter.CorrelationID)
	}
	if filter.From != nil && !filter.From.IsZero() {
		q = q.Where("occurred_at >= ?", StartOfDay(*filter.From))
	}
	if filter.To != nil && !filter.To.IsZero() {
		q = q.Where("occurred_at < ?", StartOfDay(*filter.To).AddDate(0, 0, 1))
	}
	return q
}

func applyOrder(q *bun.SelectQuery, ascending bool) *bun.SelectQuery {
	if ascending {
		return q.OrderExpr("occurred_at ASC, id ASC")
	}
	return q.OrderExpr("occurred_at DESC, id DESC")
}

// StartOfDay truncates t to midnight UTC. Date range filters include the
// whole of both boundary days.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
