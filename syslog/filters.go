package syslog

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/pkg/types"
)

func applySystemLogFilter(q *bun.SelectQuery, filter types.SystemLogFilter, now time.Time) *bun.SelectQuery {
	if eventType := strings.TrimSpace(filter.EventType); eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	if category := normalizeCategory(filter.Category); category != "" {
		q = q.Where("category = ?", category)
	}
	switch {
	case filter.CriticalOrError:
		q = q.Where("severity IN (?)", bun.In([]string{string(types.SeverityError), string(types.SeverityCritical)}))
	case len(filter.Severities) > 0:
		severities := make([]string, 0, len(filter.Severities))
		for _, severity := range filter.Severities {
			severities = append(severities, string(severity))
		}
		q = q.Where("severity IN (?)", bun.In(severities))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.TargetType != "" {
		q = q.Where("target_type = ?", filter.TargetType)
	}
	if filter.TargetID != "" {
		q = q.Where("target_id = ?", filter.TargetID)
	}
	if filter.TenantID != uuid.Nil {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.CorrelationID != "" {
		q = q.Where("correlation_id = ?", filter.CorrelationID)
	}
	if filter.Since != nil && !filter.Since.IsZero() {
		q = q.Where("occurred_at >= ?", filter.Since.UTC())
	}
	if filter.Until != nil && !filter.Until.IsZero() {
		q = q.Where("occurred_at <= ?", filter.Until.UTC())
	}
	if filter.RecentHours > 0 {
		q = q.Where("occurred_at >= ?", now.UTC().Add(-time.Duration(filter.RecentHours)*time.Hour))
	}
	return q
}

// normalizeCategory accepts "billing", "billing.*" and "billing." alike.
func normalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	category = strings.TrimSuffix(category, "*")
	category = strings.TrimSuffix(category, ".")
	return types.EventCategory(category)
}
