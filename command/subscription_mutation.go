package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/subscription"
)

// SubscriptionResult carries the updated subscription, the history row and
// the ledger entry written for the change.
type SubscriptionResult struct {
	Subscription *subscription.Subscription
	History      subscription.History
	Audit        types.AuditEntry
}

// subscriptionMutation describes one locked read-modify-write of a
// subscription row. apply may add to meta; the same map is stored on the
// history row and the ledger entry.
type subscriptionMutation struct {
	operation      string
	subscriptionID uuid.UUID
	action         types.Action
	event          types.HistoryEvent
	actor          types.Actor
	request        types.RequestContext
	reason         string
	severity       types.Severity
	eventFor       func(before, after *subscription.Subscription) types.HistoryEvent
	apply          func(ctx context.Context, tx bun.Tx, s *subscription.Subscription, at time.Time, meta map[string]any) error
}

func (l *lifecycle) mutateSubscription(ctx context.Context, m subscriptionMutation, result *SubscriptionResult) error {
	if err := l.ready(true); err != nil {
		return err
	}
	var (
		updated *subscription.Subscription
		row     subscription.History
	)
	written, err := l.commit(ctx, func(ctx context.Context, tx bun.Tx) (*outcome, error) {
		current, err := l.subscriptions.LockTx(ctx, tx, m.subscriptionID)
		if err != nil {
			return nil, err
		}
		before := current.Clone()
		at := now(l.clock)
		meta := map[string]any{}
		if err := m.apply(ctx, tx, current, at, meta); err != nil {
			return nil, err
		}
		if err := l.subscriptions.UpdateTx(ctx, tx, current); err != nil {
			return nil, err
		}
		if before.PlanID != current.PlanID {
			if err := l.syncTenantPlan(ctx, tx, current); err != nil {
				return nil, err
			}
		}

		event := m.event
		if m.eventFor != nil {
			event = m.eventFor(before, current)
		}
		row = historyRow(before, current, event, m.actor, m.reason, meta, at)
		if err := l.subscriptions.InsertHistoryTx(ctx, tx, &row); err != nil {
			return nil, err
		}
		updated = current

		from, to := string(before.Status), string(current.Status)
		return &outcome{
			steps: []step{{
				audit:      l.subscriptionAudit(m.action, before, current, m.actor, m.request, m.reason, meta),
				transition: l.transition(types.EntitySubscription, current.ID, current.TenantID, m.action, from, to, m.actor, m.reason),
			}},
			logs: []types.SystemLogEntry{subscriptionLog(current, m, event, from, to)},
		}, nil
	})
	if err != nil {
		return l.reject(types.EntitySubscription, m.operation, err, "subscription_id", m.subscriptionID)
	}
	if result != nil {
		result.Subscription = updated
		result.History = row
		result.Audit = written[0]
	}
	return nil
}

// syncTenantPlan keeps tenants.plan_id in step with the subscription plan.
func (l *lifecycle) syncTenantPlan(ctx context.Context, tx bun.Tx, s *subscription.Subscription) error {
	t, err := l.tenants.LockTx(ctx, tx, s.TenantID)
	if err != nil {
		return err
	}
	if t.PlanID == s.PlanID {
		return nil
	}
	t.PlanID = s.PlanID
	return l.tenants.UpdateTx(ctx, tx, t)
}

// historyRow documents the step from before to after. The target plan of a
// freshly scheduled change is the pending plan.
func historyRow(before, after *subscription.Subscription, event types.HistoryEvent, actor types.Actor, reason string, meta map[string]any, at time.Time) subscription.History {
	toPlan := after.PlanID
	if after.HasPendingChange() && !before.HasPendingChange() {
		toPlan = after.PendingPlanID
	}
	row := subscription.History{
		SubscriptionID: after.ID,
		TenantID:       after.TenantID,
		EventType:      event,
		FromStatus:     string(before.Status),
		ToStatus:       string(after.Status),
		FromPlanID:     before.PlanID,
		ToPlanID:       toPlan,
		ActorType:      string(actor.Kind),
		ActorID:        actor.ID,
		Metadata:       cloneMap(meta),
		OccurredAt:     at,
	}
	if reason != "" {
		row.Reason = stringPtr(reason)
	}
	return row
}

func subscriptionLog(s *subscription.Subscription, m subscriptionMutation, event types.HistoryEvent, from, to string) types.SystemLogEntry {
	severity := m.severity
	if severity == "" {
		severity = types.SeverityInfo
	}
	details := map[string]any{"from": from, "to": to, "history_event": string(event)}
	if m.reason != "" {
		details["reason"] = m.reason
	}
	return types.SystemLogEntry{
		EventType:  "subscription." + string(m.action),
		Severity:   severity,
		Status:     types.LogStatusSuccess,
		Actor:      m.actor,
		TargetType: string(types.EntitySubscription),
		TargetID:   s.ID.String(),
		TenantID:   s.TenantID,
		Request:    m.request,
		Message:    fmt.Sprintf("subscription %s %s", s.ID, event),
		Context:    details,
	}
}

func subscriptionIDRequired(id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrSubscriptionIDRequired
	}
	return nil
}
