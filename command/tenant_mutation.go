package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/tenant"
)

// TenantResult carries the updated tenant and the ledger entry documenting
// the change.
type TenantResult struct {
	Tenant *tenant.Tenant
	Audit  types.AuditEntry
}

// tenantMutation describes one locked read-modify-write of a tenant row.
type tenantMutation struct {
	operation string
	tenantID  uuid.UUID
	action    types.Action
	actor     types.Actor
	request   types.RequestContext
	reason    string
	metadata  map[string]any
	severity  types.Severity
	state     func(*tenant.Tenant) string
	apply     func(t *tenant.Tenant, at time.Time) error
}

func billingState(t *tenant.Tenant) string {
	return string(t.Status)
}

func (l *lifecycle) mutateTenant(ctx context.Context, m tenantMutation, result *TenantResult) error {
	if err := l.ready(false); err != nil {
		return err
	}
	state := m.state
	if state == nil {
		state = billingState
	}
	var updated *tenant.Tenant
	written, err := l.commit(ctx, func(ctx context.Context, tx bun.Tx) (*outcome, error) {
		current, err := l.tenants.LockTx(ctx, tx, m.tenantID)
		if err != nil {
			return nil, err
		}
		before := current.Clone()
		if err := m.apply(current, now(l.clock)); err != nil {
			return nil, err
		}
		if err := l.tenants.UpdateTx(ctx, tx, current); err != nil {
			return nil, err
		}
		updated = current

		from, to := state(before), state(current)
		return &outcome{
			steps: []step{{
				audit:      l.tenantAudit(m.action, before, current, m.actor, m.request, m.reason, m.metadata),
				transition: l.transition(types.EntityTenant, current.ID, current.ID, m.action, from, to, m.actor, m.reason),
			}},
			logs: []types.SystemLogEntry{tenantLog(current, m, from, to)},
		}, nil
	})
	if err != nil {
		return l.reject(types.EntityTenant, m.operation, err, "tenant_id", m.tenantID)
	}
	if result != nil {
		result.Tenant = updated
		result.Audit = written[0]
	}
	return nil
}

func tenantLog(t *tenant.Tenant, m tenantMutation, from, to string) types.SystemLogEntry {
	severity := m.severity
	if severity == "" {
		severity = types.SeverityInfo
	}
	details := map[string]any{"from": from, "to": to}
	if m.reason != "" {
		details["reason"] = m.reason
	}
	return types.SystemLogEntry{
		EventType:  "tenant." + string(m.action),
		Severity:   severity,
		Status:     types.LogStatusSuccess,
		Actor:      m.actor,
		TargetType: string(types.EntityTenant),
		TargetID:   t.ID.String(),
		TenantID:   t.ID,
		Request:    m.request,
		Message:    fmt.Sprintf("tenant %s %s", t.Slug, m.action),
		Context:    details,
	}
}
