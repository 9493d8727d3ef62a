package command

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/subscription"
)

func (h *harness) subscription(id uuid.UUID) *subscription.Subscription {
	h.t.Helper()
	sub, err := h.subs.Get(context.Background(), id)
	require.NoError(h.t, err)
	return sub
}

func (h *harness) schedule(subID, planID uuid.UUID, changeType types.ChangeType) (SubscriptionResult, error) {
	var res SubscriptionResult
	err := NewSubscriptionChangePlanCommand(h.cfg).Execute(context.Background(), SubscriptionChangePlanInput{
		SubscriptionID: subID,
		PlanID:         planID,
		ChangeType:     changeType,
		Actor:          operator(),
		Result:         &res,
	})
	h.tick()
	return res, err
}

func TestScheduleNextPeriodChangeRejectsSecondChange(t *testing.T) {
	h := newHarness(t)
	sub := h.provision("acme", h.basic.ID).Subscription

	res, err := h.schedule(sub.ID, h.pro.ID, types.ChangeNextPeriod)
	require.NoError(t, err)
	require.Equal(t, h.pro.ID, res.Subscription.PendingPlanID)
	require.Equal(t, types.ChangeNextPeriod, res.Subscription.ChangeType)
	require.True(t, res.Subscription.ChangeEffectiveAt.Equal(*sub.CurrentPeriodEnd))
	require.Equal(t, h.basic.ID, res.Subscription.PlanID)
	require.Equal(t, types.HistoryUpgradeScheduled, res.History.EventType)
	require.Equal(t, h.pro.ID, res.History.ToPlanID)
	require.Equal(t, types.ActionPlanChanged, res.Audit.Action)
	require.Equal(t, true, res.Audit.Metadata["scheduled"])

	_, err = h.schedule(sub.ID, h.pro.ID, types.ChangeImmediate)
	require.ErrorIs(t, err, types.ErrInvalidTransition)
	require.ErrorIs(t, err, ErrPendingChangeExists)

	current := h.subscription(sub.ID)
	require.Equal(t, h.pro.ID, current.PendingPlanID)
	require.Equal(t, h.basic.ID, current.PlanID)
	require.Equal(t, []types.HistoryEvent{types.HistoryTrialStarted, types.HistoryUpgradeScheduled}, h.history(sub.ID))
	require.Len(t, h.subscriptionAudit(sub.ID), 2)
}

func TestScheduleDowngradeByPrice(t *testing.T) {
	h := newHarness(t)
	res := h.provision("acme", h.pro.ID)
	require.Equal(t, types.TenantActive, res.Tenant.Status)
	require.Equal(t, types.SubscriptionActive, res.Subscription.Status)

	changed, err := h.schedule(res.Subscription.ID, h.basic.ID, types.ChangeNextPeriod)
	require.NoError(t, err)
	require.Equal(t, types.HistoryDowngradeScheduled, changed.History.EventType)
	require.Equal(t, []types.HistoryEvent{types.HistoryCreated, types.HistoryDowngradeScheduled}, h.history(res.Subscription.ID))
}

func TestImmediatePlanChangeSyncsTenant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	provisioned := h.provision("acme", h.basic.ID)
	sub := provisioned.Subscription

	res, err := h.schedule(sub.ID, h.pro.ID, types.ChangeImmediate)
	require.NoError(t, err)
	require.Equal(t, h.pro.ID, res.Subscription.PlanID)
	require.Equal(t, types.SubscriptionTrial, res.Subscription.Status)
	require.False(t, res.Subscription.HasPendingChange())
	require.Equal(t, types.HistoryPlanChanged, res.History.EventType)
	require.Equal(t, h.basic.ID, res.History.FromPlanID)
	require.Equal(t, h.pro.ID, res.History.ToPlanID)

	ten, err := h.tenants.Get(ctx, provisioned.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, h.pro.ID, ten.PlanID)

	entries := h.subscriptionAudit(sub.ID)
	changed := findAction(t, entries, types.ActionPlanChanged)
	require.Equal(t, h.basic.ID.String(), changed.Before["plan_id"])
	require.Equal(t, h.pro.ID.String(), changed.After["plan_id"])

	_, err = h.schedule(sub.ID, h.pro.ID, types.ChangeImmediate)
	require.ErrorIs(t, err, ErrPlanUnchanged)
}

func TestChangePlanValidation(t *testing.T) {
	h := newHarness(t)
	sub := h.provision("acme", h.basic.ID).Subscription

	_, err := h.schedule(sub.ID, uuid.Nil, types.ChangeImmediate)
	require.ErrorIs(t, err, ErrPlanRequired)

	_, err = h.schedule(sub.ID, h.pro.ID, types.ChangeType("someday"))
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = h.schedule(sub.ID, uuid.New(), types.ChangeImmediate)
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = h.schedule(uuid.New(), h.pro.ID, types.ChangeImmediate)
	require.ErrorIs(t, err, types.ErrNotFound)
	require.Equal(t, []types.HistoryEvent{types.HistoryTrialStarted}, h.history(sub.ID))
}

func TestCancelPendingChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sub := h.provision("acme", h.basic.ID).Subscription
	cmd := NewSubscriptionCancelChangeCommand(h.cfg)

	err := cmd.Execute(ctx, SubscriptionCancelChangeInput{SubscriptionID: sub.ID, Actor: operator()})
	require.ErrorIs(t, err, ErrNoPendingChange)
	require.ErrorIs(t, err, types.ErrInvalidTransition)

	_, err = h.schedule(sub.ID, h.pro.ID, types.ChangeNextPeriod)
	require.NoError(t, err)

	var res SubscriptionResult
	require.NoError(t, cmd.Execute(ctx, SubscriptionCancelChangeInput{SubscriptionID: sub.ID, Actor: operator(), Result: &res}))
	require.False(t, res.Subscription.HasPendingChange())
	require.Nil(t, res.Subscription.ChangeEffectiveAt)
	require.Empty(t, res.Subscription.ChangeType)
	require.Equal(t, types.ActionUpdated, res.Audit.Action)
	require.Equal(t, h.pro.ID.String(), res.Audit.Metadata["cancelled_plan_id"])
	require.Equal(t, []types.HistoryEvent{
		types.HistoryTrialStarted, types.HistoryUpgradeScheduled, types.HistoryChangeCancelled,
	}, h.history(sub.ID))
}

func TestApplyDueChanges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	provisioned := h.provision("acme", h.basic.ID)
	sub := provisioned.Subscription
	_, err := h.schedule(sub.ID, h.pro.ID, types.ChangeNextPeriod)
	require.NoError(t, err)

	cmd := NewApplyDueChangesCommand(h.cfg)
	var early ApplyDueChangesResult
	require.NoError(t, cmd.Execute(ctx, ApplyDueChangesInput{Now: testStart.AddDate(0, 0, 1), Result: &early}))
	require.Empty(t, early.Applied)
	require.Empty(t, early.Failed)

	var due ApplyDueChangesResult
	require.NoError(t, cmd.Execute(ctx, ApplyDueChangesInput{Now: *sub.CurrentPeriodEnd, Result: &due}))
	require.Equal(t, []uuid.UUID{sub.ID}, due.Applied)
	require.Empty(t, due.Failed)

	current := h.subscription(sub.ID)
	require.Equal(t, h.pro.ID, current.PlanID)
	require.False(t, current.HasPendingChange())

	ten, err := h.tenants.Get(ctx, provisioned.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, h.pro.ID, ten.PlanID)

	require.Equal(t, []types.HistoryEvent{
		types.HistoryTrialStarted, types.HistoryUpgradeScheduled, types.HistoryPlanChanged,
	}, h.history(sub.ID))

	page, err := h.ledger.Query(ctx, types.AuditFilter{
		EntityType: types.EntitySubscription,
		EntityID:   sub.ID.String(),
		ActorID:    "plan_changes",
	})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	require.Equal(t, types.ActorScheduler, page.Entries[0].Actor.Kind)
	require.Equal(t, types.ActionPlanChanged, page.Entries[0].Action)

	var again ApplyDueChangesResult
	require.NoError(t, cmd.Execute(ctx, ApplyDueChangesInput{Now: sub.CurrentPeriodEnd.Add(time.Hour), Result: &again}))
	require.Empty(t, again.Applied)
}

func TestSubscriptionCancelVoidsPendingAndReactivates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sub := h.provision("acme", h.basic.ID).Subscription
	_, err := h.schedule(sub.ID, h.pro.ID, types.ChangeNextPeriod)
	require.NoError(t, err)

	err = NewSubscriptionCancelCommand(h.cfg).Execute(ctx, SubscriptionCancelInput{SubscriptionID: sub.ID, Actor: operator()})
	require.ErrorIs(t, err, ErrReasonRequired)

	var cancelled SubscriptionResult
	require.NoError(t, NewSubscriptionCancelCommand(h.cfg).Execute(ctx, SubscriptionCancelInput{
		SubscriptionID: sub.ID, Reason: "too expensive", Actor: operator(), Result: &cancelled,
	}))
	require.Equal(t, types.SubscriptionCancelled, cancelled.Subscription.Status)
	require.False(t, cancelled.Subscription.HasPendingChange())
	require.False(t, cancelled.Subscription.AutoRenew)
	require.Equal(t, "42", *cancelled.Subscription.CancelledBy)
	require.Equal(t, "too expensive", *cancelled.Subscription.CancellationReason)
	require.Equal(t, h.pro.ID.String(), cancelled.Audit.Metadata["voided_plan_id"])
	h.tick()

	_, err = h.schedule(sub.ID, h.pro.ID, types.ChangeImmediate)
	require.ErrorIs(t, err, types.ErrInvalidTransition)

	var reactivated SubscriptionResult
	require.NoError(t, NewSubscriptionReactivateCommand(h.cfg).Execute(ctx, SubscriptionReactivateInput{
		SubscriptionID: sub.ID, Actor: operator(), Result: &reactivated,
	}))
	require.Equal(t, types.SubscriptionTrial, reactivated.Subscription.Status)
	require.Nil(t, reactivated.Subscription.CancelledAt)
	require.Nil(t, reactivated.Subscription.CancellationReason)
	require.Nil(t, reactivated.Subscription.CancelledBy)
	require.True(t, reactivated.Subscription.AutoRenew)
	h.tick()

	err = NewSubscriptionReactivateCommand(h.cfg).Execute(ctx, SubscriptionReactivateInput{SubscriptionID: sub.ID, Actor: operator()})
	require.ErrorIs(t, err, types.ErrInvalidTransition)

	require.Equal(t, []types.HistoryEvent{
		types.HistoryTrialStarted, types.HistoryUpgradeScheduled, types.HistoryCancelled, types.HistoryReactivated,
	}, h.history(sub.ID))
	require.ElementsMatch(t, []types.Action{
		types.ActionCreated, types.ActionPlanChanged, types.ActionCancelled, types.ActionReactivated,
	}, actionsOf(h.subscriptionAudit(sub.ID)))
}

func TestSubscriptionExpireAndReactivateRestartsPeriod(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sub := h.provision("acme", h.basic.ID).Subscription

	var expired SubscriptionResult
	require.NoError(t, NewSubscriptionExpireCommand(h.cfg).Execute(ctx, SubscriptionStatusInput{
		SubscriptionID: sub.ID, Actor: types.SchedulerActor("trial_expiry"), Result: &expired,
	}))
	require.Equal(t, types.SubscriptionExpired, expired.Subscription.Status)
	require.Equal(t, types.HistoryTrialEnded, expired.History.EventType)
	require.Equal(t, types.ActionStatusChanged, expired.Audit.Action)

	h.clock.Advance(40 * 24 * time.Hour)
	var reactivated SubscriptionResult
	require.NoError(t, NewSubscriptionReactivateCommand(h.cfg).Execute(ctx, SubscriptionReactivateInput{
		SubscriptionID: sub.ID, Actor: operator(), Result: &reactivated,
	}))
	at := h.clock.Now()
	require.Equal(t, types.SubscriptionActive, reactivated.Subscription.Status)
	require.True(t, reactivated.Subscription.CurrentPeriodStart.Equal(at))
	require.True(t, reactivated.Subscription.CurrentPeriodEnd.Equal(at.AddDate(0, 1, 0)))
	require.Equal(t, true, reactivated.Audit.Metadata["period_restarted"])
}

func TestSubscriptionOverdueThenRenew(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sub := h.provision("acme", h.pro.ID).Subscription

	var overdue SubscriptionResult
	require.NoError(t, NewSubscriptionMarkOverdueCommand(h.cfg).Execute(ctx, SubscriptionStatusInput{
		SubscriptionID: sub.ID, Actor: types.WebhookActor("stripe"), Result: &overdue,
	}))
	require.Equal(t, types.SubscriptionOverdue, overdue.Subscription.Status)
	require.Equal(t, types.HistoryStatusChanged, overdue.History.EventType)
	h.tick()

	err := NewSubscriptionRenewCommand(h.cfg).Execute(ctx, SubscriptionRenewInput{
		SubscriptionID: sub.ID, PeriodEnd: testStart, Actor: types.WebhookActor("stripe"),
	})
	require.ErrorIs(t, err, types.ErrValidation)

	var renewed SubscriptionResult
	require.NoError(t, NewSubscriptionRenewCommand(h.cfg).Execute(ctx, SubscriptionRenewInput{
		SubscriptionID: sub.ID, Actor: types.WebhookActor("stripe"), Result: &renewed,
	}))
	previousEnd := *sub.CurrentPeriodEnd
	require.Equal(t, types.SubscriptionActive, renewed.Subscription.Status)
	require.True(t, renewed.Subscription.CurrentPeriodStart.Equal(previousEnd))
	require.True(t, renewed.Subscription.CurrentPeriodEnd.Equal(previousEnd.AddDate(0, 1, 0)))
	require.Equal(t, types.HistoryRenewed, renewed.History.EventType)
	require.Equal(t, types.ActionStatusChanged, renewed.Audit.Action)

	require.Contains(t, h.metrics.transitions, "Subscription:active->overdue")
	require.Contains(t, h.metrics.transitions, "Subscription:overdue->active")
}

func TestSubscriptionCommandIsAtomic(t *testing.T) {
	h := newHarness(t)
	sub := h.provision("acme", h.basic.ID).Subscription
	outboxBefore := h.outboxCount()

	cfg := h.cfg
	cfg.Outbox = failingOutbox{}
	err := NewSubscriptionChangePlanCommand(cfg).Execute(context.Background(), SubscriptionChangePlanInput{
		SubscriptionID: sub.ID,
		PlanID:         h.pro.ID,
		ChangeType:     types.ChangeNextPeriod,
		Actor:          operator(),
	})
	require.Error(t, err)

	current := h.subscription(sub.ID)
	require.False(t, current.HasPendingChange())
	require.Equal(t, []types.HistoryEvent{types.HistoryTrialStarted}, h.history(sub.ID))
	require.Len(t, h.subscriptionAudit(sub.ID), 1)
	require.Equal(t, outboxBefore, h.outboxCount())
}
