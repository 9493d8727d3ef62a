package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocommand "github.com/goliatone/go-command"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/subscription"
)

// SubscriptionChangePlanInput schedules or applies a plan change.
type SubscriptionChangePlanInput struct {
	SubscriptionID uuid.UUID
	PlanID         uuid.UUID
	ChangeType     types.ChangeType
	Reason         string
	Actor          types.Actor
	Request        types.RequestContext
	Result         *SubscriptionResult
}

// Type implements gocommand.Message.
func (SubscriptionChangePlanInput) Type() string {
	return "command.subscription.change_plan"
}

// Validate implements gocommand.Message.
func (input SubscriptionChangePlanInput) Validate() error {
	if err := subscriptionIDRequired(input.SubscriptionID); err != nil {
		return err
	}
	if input.PlanID == uuid.Nil {
		return ErrPlanRequired
	}
	if !input.ChangeType.Valid() {
		return fmt.Errorf("%w: unknown change type %q", types.ErrValidation, input.ChangeType)
	}
	return validateActor(input.Actor)
}

// SubscriptionChangePlanCommand switches plans now or at the end of the
// current period. At most one change may be pending.
type SubscriptionChangePlanCommand struct {
	lc *lifecycle
}

// NewSubscriptionChangePlanCommand wires the handler.
func NewSubscriptionChangePlanCommand(cfg LifecycleConfig) *SubscriptionChangePlanCommand {
	return &SubscriptionChangePlanCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[SubscriptionChangePlanInput] = (*SubscriptionChangePlanCommand)(nil)

// Execute performs the change.
func (c *SubscriptionChangePlanCommand) Execute(ctx context.Context, input SubscriptionChangePlanInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntitySubscription, "change_plan", err)
	}
	if c.lc.plans == nil {
		return fmt.Errorf("%w: plan catalog", types.ErrMissingDB)
	}
	event := types.HistoryPlanChanged
	return c.lc.mutateSubscription(ctx, subscriptionMutation{
		operation:      "change_plan",
		subscriptionID: input.SubscriptionID,
		action:         types.ActionPlanChanged,
		actor:          input.Actor,
		request:        input.Request,
		reason:         strings.TrimSpace(input.Reason),
		eventFor: func(_, _ *subscription.Subscription) types.HistoryEvent {
			return event
		},
		apply: func(ctx context.Context, tx bun.Tx, s *subscription.Subscription, at time.Time, meta map[string]any) error {
			switch {
			case s.Status == types.SubscriptionCancelled || s.Status == types.SubscriptionExpired:
				return fmt.Errorf("%w: cannot change plan of %s subscription", types.ErrInvalidTransition, s.Status)
			case s.HasPendingChange():
				return ErrPendingChangeExists
			case s.PlanID == input.PlanID:
				return ErrPlanUnchanged
			}
			target, err := c.lc.plans.GetTx(ctx, tx, input.PlanID)
			if err != nil {
				return err
			}
			meta["change_type"] = string(input.ChangeType)
			meta["from_plan_id"] = s.PlanID.String()
			meta["to_plan_id"] = target.ID.String()
			meta["to_plan_code"] = target.Code

			if input.ChangeType == types.ChangeImmediate {
				s.PlanID = target.ID
				return nil
			}

			if s.CurrentPeriodEnd == nil {
				return fmt.Errorf("%w: subscription has no current period to end", types.ErrValidation)
			}
			current, err := c.lc.plans.GetTx(ctx, tx, s.PlanID)
			if err != nil {
				return err
			}
			effective := *s.CurrentPeriodEnd
			s.PendingPlanID = target.ID
			s.ChangeEffectiveAt = &effective
			s.ChangeType = types.ChangeNextPeriod
			meta["scheduled"] = true
			meta["effective_at"] = effective.Format(time.RFC3339Nano)
			if target.PriceCents >= current.PriceCents {
				event = types.HistoryUpgradeScheduled
			} else {
				event = types.HistoryDowngradeScheduled
			}
			return nil
		},
	}, input.Result)
}

// SubscriptionCancelChangeInput voids the scheduled plan change.
type SubscriptionCancelChangeInput struct {
	SubscriptionID uuid.UUID
	Reason         string
	Actor          types.Actor
	Request        types.RequestContext
	Result         *SubscriptionResult
}

// Type implements gocommand.Message.
func (SubscriptionCancelChangeInput) Type() string {
	return "command.subscription.cancel_change"
}

// Validate implements gocommand.Message.
func (input SubscriptionCancelChangeInput) Validate() error {
	if err := subscriptionIDRequired(input.SubscriptionID); err != nil {
		return err
	}
	return validateActor(input.Actor)
}

// SubscriptionCancelChangeCommand clears the three pending fields together.
type SubscriptionCancelChangeCommand struct {
	lc *lifecycle
}

// NewSubscriptionCancelChangeCommand wires the handler.
func NewSubscriptionCancelChangeCommand(cfg LifecycleConfig) *SubscriptionCancelChangeCommand {
	return &SubscriptionCancelChangeCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[SubscriptionCancelChangeInput] = (*SubscriptionCancelChangeCommand)(nil)

// Execute cancels the pending change.
func (c *SubscriptionCancelChangeCommand) Execute(ctx context.Context, input SubscriptionCancelChangeInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntitySubscription, "cancel_change", err)
	}
	return c.lc.mutateSubscription(ctx, subscriptionMutation{
		operation:      "cancel_change",
		subscriptionID: input.SubscriptionID,
		action:         types.ActionUpdated,
		event:          types.HistoryChangeCancelled,
		actor:          input.Actor,
		request:        input.Request,
		reason:         strings.TrimSpace(input.Reason),
		apply: func(_ context.Context, _ bun.Tx, s *subscription.Subscription, _ time.Time, meta map[string]any) error {
			if !s.HasPendingChange() {
				return ErrNoPendingChange
			}
			meta["cancelled_plan_id"] = s.PendingPlanID.String()
			meta["change_type"] = string(s.ChangeType)
			s.ClearPendingChange()
			return nil
		},
	}, input.Result)
}

// ApplyDueChangesInput drives the scheduled plan change sweep.
type ApplyDueChangesInput struct {
	Now    time.Time
	Limit  int
	Result *ApplyDueChangesResult
}

// ApplyDueChangesResult reports the outcome per subscription.
type ApplyDueChangesResult struct {
	Applied []uuid.UUID
	Skipped []uuid.UUID
	Failed  map[uuid.UUID]error
}

// Type implements gocommand.Message.
func (ApplyDueChangesInput) Type() string {
	return "command.subscription.apply_due_changes"
}

// Validate implements gocommand.Message.
func (input ApplyDueChangesInput) Validate() error {
	if input.Limit < 0 {
		return fmt.Errorf("%w: limit must be positive", types.ErrValidation)
	}
	return nil
}

// ApplyDueChangesCommand applies every pending change whose effective time
// has passed. Each subscription commits in its own transaction so one failure
// does not block the rest.
type ApplyDueChangesCommand struct {
	lc *lifecycle
}

// NewApplyDueChangesCommand wires the handler.
func NewApplyDueChangesCommand(cfg LifecycleConfig) *ApplyDueChangesCommand {
	return &ApplyDueChangesCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[ApplyDueChangesInput] = (*ApplyDueChangesCommand)(nil)

var errChangeNotDue = fmt.Errorf("%w: plan change not due", types.ErrInvalidTransition)

// Execute runs one sweep.
func (c *ApplyDueChangesCommand) Execute(ctx context.Context, input ApplyDueChangesInput) error {
	if err := input.Validate(); err != nil {
		return err
	}
	if err := c.lc.ready(true); err != nil {
		return err
	}
	at := input.Now
	if at.IsZero() {
		at = now(c.lc.clock)
	}
	at = at.UTC()

	ids, err := c.lc.subscriptions.ListDue(ctx, at, input.Limit)
	if err != nil {
		return err
	}
	result := ApplyDueChangesResult{Failed: map[uuid.UUID]error{}}
	actor := types.SchedulerActor("plan_changes")
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.lc.mutateSubscription(ctx, subscriptionMutation{
			operation:      "apply_due_change",
			subscriptionID: id,
			action:         types.ActionPlanChanged,
			event:          types.HistoryPlanChanged,
			actor:          actor,
			apply: func(_ context.Context, _ bun.Tx, s *subscription.Subscription, _ time.Time, meta map[string]any) error {
				if !s.HasPendingChange() || s.ChangeEffectiveAt == nil || s.ChangeEffectiveAt.After(at) {
					return errChangeNotDue
				}
				meta["change_type"] = string(s.ChangeType)
				meta["from_plan_id"] = s.PlanID.String()
				meta["to_plan_id"] = s.PendingPlanID.String()
				meta["scheduled_for"] = s.ChangeEffectiveAt.Format(time.RFC3339Nano)
				s.PlanID = s.PendingPlanID
				s.ClearPendingChange()
				return nil
			},
		}, nil)
		switch {
		case err == nil:
			result.Applied = append(result.Applied, id)
		case errors.Is(err, errChangeNotDue):
			result.Skipped = append(result.Skipped, id)
		default:
			result.Failed[id] = err
			c.lc.logger.Error("scheduled plan change failed", err, "subscription_id", id)
		}
	}
	if len(result.Applied) > 0 {
		c.lc.logger.Info("scheduled plan changes applied", "count", len(result.Applied))
	}
	if input.Result != nil {
		*input.Result = result
	}
	return nil
}
