package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocommand "github.com/goliatone/go-command"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/subscription"
)

// SubscriptionCancelInput cancels a subscription. A reason is mandatory.
type SubscriptionCancelInput struct {
	SubscriptionID uuid.UUID
	Reason         string
	Actor          types.Actor
	Request        types.RequestContext
	Result         *SubscriptionResult
}

// Type implements gocommand.Message.
func (SubscriptionCancelInput) Type() string {
	return "command.subscription.cancel"
}

// Validate implements gocommand.Message.
func (input SubscriptionCancelInput) Validate() error {
	if err := subscriptionIDRequired(input.SubscriptionID); err != nil {
		return err
	}
	if strings.TrimSpace(input.Reason) == "" {
		return ErrReasonRequired
	}
	return validateActor(input.Actor)
}

// SubscriptionCancelCommand stops renewal and voids any pending change.
type SubscriptionCancelCommand struct {
	lc *lifecycle
}

// NewSubscriptionCancelCommand wires the handler.
func NewSubscriptionCancelCommand(cfg LifecycleConfig) *SubscriptionCancelCommand {
	return &SubscriptionCancelCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[SubscriptionCancelInput] = (*SubscriptionCancelCommand)(nil)

// Execute performs the cancellation.
func (c *SubscriptionCancelCommand) Execute(ctx context.Context, input SubscriptionCancelInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntitySubscription, "cancel", err)
	}
	reason := strings.TrimSpace(input.Reason)
	return c.lc.mutateSubscription(ctx, subscriptionMutation{
		operation:      "cancel",
		subscriptionID: input.SubscriptionID,
		action:         types.ActionCancelled,
		event:          types.HistoryCancelled,
		actor:          input.Actor,
		request:        input.Request,
		reason:         reason,
		severity:       types.SeverityWarning,
		apply: func(_ context.Context, _ bun.Tx, s *subscription.Subscription, at time.Time, meta map[string]any) error {
			if err := c.lc.subscriptionPolicy.Validate(s.Status, types.SubscriptionCancelled); err != nil {
				return err
			}
			voidPendingChange(s, meta)
			s.Status = types.SubscriptionCancelled
			s.AutoRenew = false
			s.CancelledAt = &at
			s.CancellationReason = stringPtr(reason)
			s.CancelledBy = actorRef(input.Actor)
			return nil
		},
	}, input.Result)
}

// SubscriptionReactivateInput restores a cancelled or expired subscription.
type SubscriptionReactivateInput struct {
	SubscriptionID uuid.UUID
	Actor          types.Actor
	Request        types.RequestContext
	Result         *SubscriptionResult
}

// Type implements gocommand.Message.
func (SubscriptionReactivateInput) Type() string {
	return "command.subscription.reactivate"
}

// Validate implements gocommand.Message.
func (input SubscriptionReactivateInput) Validate() error {
	if err := subscriptionIDRequired(input.SubscriptionID); err != nil {
		return err
	}
	return validateActor(input.Actor)
}

// SubscriptionReactivateCommand returns the subscription to trial when the
// trial is still running, otherwise to active. An elapsed period is
// restarted from now.
type SubscriptionReactivateCommand struct {
	lc *lifecycle
}

// NewSubscriptionReactivateCommand wires the handler.
func NewSubscriptionReactivateCommand(cfg LifecycleConfig) *SubscriptionReactivateCommand {
	return &SubscriptionReactivateCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[SubscriptionReactivateInput] = (*SubscriptionReactivateCommand)(nil)

// Execute performs the reactivation.
func (c *SubscriptionReactivateCommand) Execute(ctx context.Context, input SubscriptionReactivateInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntitySubscription, "reactivate", err)
	}
	return c.lc.mutateSubscription(ctx, subscriptionMutation{
		operation:      "reactivate",
		subscriptionID: input.SubscriptionID,
		action:         types.ActionReactivated,
		event:          types.HistoryReactivated,
		actor:          input.Actor,
		request:        input.Request,
		apply: func(ctx context.Context, tx bun.Tx, s *subscription.Subscription, at time.Time, meta map[string]any) error {
			if s.Status != types.SubscriptionCancelled && s.Status != types.SubscriptionExpired {
				return fmt.Errorf("%w: cannot reactivate %s subscription", types.ErrInvalidTransition, s.Status)
			}
			target := types.SubscriptionActive
			if s.TrialEndsAt != nil && s.TrialEndsAt.After(at) {
				target = types.SubscriptionTrial
			}
			if err := c.lc.subscriptionPolicy.Validate(s.Status, target); err != nil {
				return err
			}
			if s.CurrentPeriodEnd == nil || !s.CurrentPeriodEnd.After(at) {
				if c.lc.plans == nil {
					return fmt.Errorf("%w: plan catalog", types.ErrMissingDB)
				}
				p, err := c.lc.plans.GetTx(ctx, tx, s.PlanID)
				if err != nil {
					return err
				}
				end := p.PeriodEnd(at)
				s.CurrentPeriodStart = &at
				s.CurrentPeriodEnd = &end
				meta["period_restarted"] = true
			}
			meta["previous_status"] = string(s.Status)
			s.Status = target
			s.AutoRenew = true
			s.CancelledAt = nil
			s.CancellationReason = nil
			s.CancelledBy = nil
			return nil
		},
	}, input.Result)
}

// SubscriptionStatusInput carries a status signal from a billing
// collaborator.
type SubscriptionStatusInput struct {
	SubscriptionID uuid.UUID
	Reason         string
	Actor          types.Actor
	Request        types.RequestContext
	Result         *SubscriptionResult
}

// Type implements gocommand.Message.
func (SubscriptionStatusInput) Type() string {
	return "command.subscription.status"
}

// Validate implements gocommand.Message.
func (input SubscriptionStatusInput) Validate() error {
	if err := subscriptionIDRequired(input.SubscriptionID); err != nil {
		return err
	}
	return validateActor(input.Actor)
}

// SubscriptionMarkOverdueCommand flags a failed payment.
type SubscriptionMarkOverdueCommand struct {
	lc *lifecycle
}

// NewSubscriptionMarkOverdueCommand wires the handler.
func NewSubscriptionMarkOverdueCommand(cfg LifecycleConfig) *SubscriptionMarkOverdueCommand {
	return &SubscriptionMarkOverdueCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[SubscriptionStatusInput] = (*SubscriptionMarkOverdueCommand)(nil)

// Execute moves the subscription to overdue.
func (c *SubscriptionMarkOverdueCommand) Execute(ctx context.Context, input SubscriptionStatusInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntitySubscription, "mark_overdue", err)
	}
	return c.lc.mutateSubscription(ctx, subscriptionMutation{
		operation:      "mark_overdue",
		subscriptionID: input.SubscriptionID,
		action:         types.ActionStatusChanged,
		event:          types.HistoryStatusChanged,
		actor:          input.Actor,
		request:        input.Request,
		reason:         strings.TrimSpace(input.Reason),
		severity:       types.SeverityWarning,
		apply: func(_ context.Context, _ bun.Tx, s *subscription.Subscription, _ time.Time, _ map[string]any) error {
			if err := c.lc.subscriptionPolicy.Validate(s.Status, types.SubscriptionOverdue); err != nil {
				return err
			}
			s.Status = types.SubscriptionOverdue
			return nil
		},
	}, input.Result)
}

// SubscriptionExpireCommand ends a trial or an unpaid period.
type SubscriptionExpireCommand struct {
	lc *lifecycle
}

// NewSubscriptionExpireCommand wires the handler.
func NewSubscriptionExpireCommand(cfg LifecycleConfig) *SubscriptionExpireCommand {
	return &SubscriptionExpireCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[SubscriptionStatusInput] = (*SubscriptionExpireCommand)(nil)

// Execute moves the subscription to expired and voids any pending change.
func (c *SubscriptionExpireCommand) Execute(ctx context.Context, input SubscriptionStatusInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntitySubscription, "expire", err)
	}
	return c.lc.mutateSubscription(ctx, subscriptionMutation{
		operation:      "expire",
		subscriptionID: input.SubscriptionID,
		action:         types.ActionStatusChanged,
		actor:          input.Actor,
		request:        input.Request,
		reason:         strings.TrimSpace(input.Reason),
		eventFor: func(before, _ *subscription.Subscription) types.HistoryEvent {
			if before.Status == types.SubscriptionTrial {
				return types.HistoryTrialEnded
			}
			return types.HistoryStatusChanged
		},
		apply: func(_ context.Context, _ bun.Tx, s *subscription.Subscription, _ time.Time, meta map[string]any) error {
			if err := c.lc.subscriptionPolicy.Validate(s.Status, types.SubscriptionExpired); err != nil {
				return err
			}
			voidPendingChange(s, meta)
			s.Status = types.SubscriptionExpired
			return nil
		},
	}, input.Result)
}

// SubscriptionRenewInput records a paid renewal. A zero PeriodEnd means one
// billing period of the current plan.
type SubscriptionRenewInput struct {
	SubscriptionID uuid.UUID
	PeriodEnd      time.Time
	Actor          types.Actor
	Request        types.RequestContext
	Result         *SubscriptionResult
}

// Type implements gocommand.Message.
func (SubscriptionRenewInput) Type() string {
	return "command.subscription.renew"
}

// Validate implements gocommand.Message.
func (input SubscriptionRenewInput) Validate() error {
	if err := subscriptionIDRequired(input.SubscriptionID); err != nil {
		return err
	}
	return validateActor(input.Actor)
}

// SubscriptionRenewCommand starts the next period and settles the
// subscription as active.
type SubscriptionRenewCommand struct {
	lc *lifecycle
}

// NewSubscriptionRenewCommand wires the handler.
func NewSubscriptionRenewCommand(cfg LifecycleConfig) *SubscriptionRenewCommand {
	return &SubscriptionRenewCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[SubscriptionRenewInput] = (*SubscriptionRenewCommand)(nil)

// Execute performs the renewal.
func (c *SubscriptionRenewCommand) Execute(ctx context.Context, input SubscriptionRenewInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntitySubscription, "renew", err)
	}
	return c.lc.mutateSubscription(ctx, subscriptionMutation{
		operation:      "renew",
		subscriptionID: input.SubscriptionID,
		action:         types.ActionStatusChanged,
		event:          types.HistoryRenewed,
		actor:          input.Actor,
		request:        input.Request,
		apply: func(ctx context.Context, tx bun.Tx, s *subscription.Subscription, at time.Time, meta map[string]any) error {
			if s.Status != types.SubscriptionActive {
				if err := c.lc.subscriptionPolicy.Validate(s.Status, types.SubscriptionActive); err != nil {
					return err
				}
			}
			if s.Status == types.SubscriptionExpired || s.Status == types.SubscriptionCancelled {
				return fmt.Errorf("%w: cannot renew %s subscription", types.ErrInvalidTransition, s.Status)
			}
			start := at
			if s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(at) {
				start = *s.CurrentPeriodEnd
			}
			end := input.PeriodEnd.UTC()
			if input.PeriodEnd.IsZero() {
				if c.lc.plans == nil {
					return fmt.Errorf("%w: plan catalog", types.ErrMissingDB)
				}
				p, err := c.lc.plans.GetTx(ctx, tx, s.PlanID)
				if err != nil {
					return err
				}
				end = p.PeriodEnd(start)
			}
			if !end.After(start) {
				return fmt.Errorf("%w: period end must follow period start", types.ErrValidation)
			}
			meta["period_start"] = start.Format(time.RFC3339Nano)
			meta["period_end"] = end.Format(time.RFC3339Nano)
			s.Status = types.SubscriptionActive
			s.CurrentPeriodStart = &start
			s.CurrentPeriodEnd = &end
			return nil
		},
	}, input.Result)
}

func voidPendingChange(s *subscription.Subscription, meta map[string]any) {
	if !s.HasPendingChange() {
		return
	}
	meta["voided_plan_id"] = s.PendingPlanID.String()
	s.ClearPendingChange()
}
