package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocommand "github.com/goliatone/go-command"
	"github.com/google/uuid"

	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/tenant"
)

// TenantSuspendInput suspends a tenant. A reason is mandatory.
type TenantSuspendInput struct {
	TenantID uuid.UUID
	Reason   string
	Actor    types.Actor
	Request  types.RequestContext
	Result   *TenantResult
}

// Type implements gocommand.Message.
func (TenantSuspendInput) Type() string {
	return "command.tenant.suspend"
}

// Validate implements gocommand.Message.
func (input TenantSuspendInput) Validate() error {
	switch {
	case input.TenantID == uuid.Nil:
		return ErrTenantIDRequired
	case strings.TrimSpace(input.Reason) == "":
		return ErrReasonRequired
	}
	return validateActor(input.Actor)
}

// TenantSuspendCommand moves a trial, active or overdue tenant to suspended.
type TenantSuspendCommand struct {
	lc *lifecycle
}

// NewTenantSuspendCommand wires the handler.
func NewTenantSuspendCommand(cfg LifecycleConfig) *TenantSuspendCommand {
	return &TenantSuspendCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[TenantSuspendInput] = (*TenantSuspendCommand)(nil)

// Execute performs the suspension.
func (c *TenantSuspendCommand) Execute(ctx context.Context, input TenantSuspendInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntityTenant, "suspend", err)
	}
	reason := strings.TrimSpace(input.Reason)
	return c.lc.mutateTenant(ctx, tenantMutation{
		operation: "suspend",
		tenantID:  input.TenantID,
		action:    types.ActionSuspended,
		actor:     input.Actor,
		request:   input.Request,
		reason:    reason,
		severity:  types.SeverityWarning,
		apply: func(t *tenant.Tenant, at time.Time) error {
			if err := c.lc.tenantPolicy.Validate(t.Status, types.TenantSuspended); err != nil {
				return err
			}
			t.Status = types.TenantSuspended
			t.SuspendedAt = &at
			t.SuspendedReason = stringPtr(reason)
			t.SuspendedBy = actorRef(input.Actor)
			return nil
		},
	}, input.Result)
}

// TenantReactivateInput lifts a suspension or an overdue flag.
type TenantReactivateInput struct {
	TenantID uuid.UUID
	Reason   string
	Actor    types.Actor
	Request  types.RequestContext
	Result   *TenantResult
}

// Type implements gocommand.Message.
func (TenantReactivateInput) Type() string {
	return "command.tenant.reactivate"
}

// Validate implements gocommand.Message.
func (input TenantReactivateInput) Validate() error {
	if input.TenantID == uuid.Nil {
		return ErrTenantIDRequired
	}
	return validateActor(input.Actor)
}

// TenantReactivateCommand restores a suspended or overdue tenant. The target
// is trial while the trial end is still ahead, active otherwise, decided at
// call time.
type TenantReactivateCommand struct {
	lc *lifecycle
}

// NewTenantReactivateCommand wires the handler.
func NewTenantReactivateCommand(cfg LifecycleConfig) *TenantReactivateCommand {
	return &TenantReactivateCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[TenantReactivateInput] = (*TenantReactivateCommand)(nil)

// Execute performs the reactivation.
func (c *TenantReactivateCommand) Execute(ctx context.Context, input TenantReactivateInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntityTenant, "reactivate", err)
	}
	return c.lc.mutateTenant(ctx, tenantMutation{
		operation: "reactivate",
		tenantID:  input.TenantID,
		action:    types.ActionReactivated,
		actor:     input.Actor,
		request:   input.Request,
		reason:    strings.TrimSpace(input.Reason),
		apply: func(t *tenant.Tenant, at time.Time) error {
			if t.Status != types.TenantSuspended && t.Status != types.TenantOverdue {
				return fmt.Errorf("%w: cannot reactivate a %s tenant", types.ErrInvalidTransition, t.Status)
			}
			target := types.TenantActive
			if t.TrialEndsAt != nil && t.TrialEndsAt.After(at) {
				target = types.TenantTrial
			}
			if err := c.lc.tenantPolicy.Validate(t.Status, target); err != nil {
				return err
			}
			t.Status = target
			t.SuspendedAt = nil
			t.SuspendedReason = nil
			t.SuspendedBy = nil
			t.OverdueSince = nil
			return nil
		},
	}, input.Result)
}

// TenantCancelInput cancels a tenant. Cancellation is terminal.
type TenantCancelInput struct {
	TenantID uuid.UUID
	Reason   string
	Actor    types.Actor
	Request  types.RequestContext
	Result   *TenantResult
}

// Type implements gocommand.Message.
func (TenantCancelInput) Type() string {
	return "command.tenant.cancel"
}

// Validate implements gocommand.Message.
func (input TenantCancelInput) Validate() error {
	switch {
	case input.TenantID == uuid.Nil:
		return ErrTenantIDRequired
	case strings.TrimSpace(input.Reason) == "":
		return ErrReasonRequired
	}
	return validateActor(input.Actor)
}

// TenantCancelCommand cancels any non cancelled tenant.
type TenantCancelCommand struct {
	lc *lifecycle
}

// NewTenantCancelCommand wires the handler.
func NewTenantCancelCommand(cfg LifecycleConfig) *TenantCancelCommand {
	return &TenantCancelCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[TenantCancelInput] = (*TenantCancelCommand)(nil)

// Execute performs the cancellation.
func (c *TenantCancelCommand) Execute(ctx context.Context, input TenantCancelInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntityTenant, "cancel", err)
	}
	reason := strings.TrimSpace(input.Reason)
	return c.lc.mutateTenant(ctx, tenantMutation{
		operation: "cancel",
		tenantID:  input.TenantID,
		action:    types.ActionCancelled,
		actor:     input.Actor,
		request:   input.Request,
		reason:    reason,
		severity:  types.SeverityWarning,
		apply: func(t *tenant.Tenant, at time.Time) error {
			if err := c.lc.tenantPolicy.Validate(t.Status, types.TenantCancelled); err != nil {
				return err
			}
			t.Status = types.TenantCancelled
			t.CancelledAt = &at
			t.CancellationReason = stringPtr(reason)
			t.CancelledBy = actorRef(input.Actor)
			return nil
		},
	}, input.Result)
}

// TenantStatusInput drives the billing signals that carry no extra payload:
// overdue marking and activation.
type TenantStatusInput struct {
	TenantID uuid.UUID
	Reason   string
	Actor    types.Actor
	Request  types.RequestContext
	Result   *TenantResult
}

// Type implements gocommand.Message.
func (TenantStatusInput) Type() string {
	return "command.tenant.status"
}

// Validate implements gocommand.Message.
func (input TenantStatusInput) Validate() error {
	if input.TenantID == uuid.Nil {
		return ErrTenantIDRequired
	}
	return validateActor(input.Actor)
}

// TenantMarkOverdueCommand flags a trial or active tenant as overdue.
type TenantMarkOverdueCommand struct {
	lc *lifecycle
}

// NewTenantMarkOverdueCommand wires the handler.
func NewTenantMarkOverdueCommand(cfg LifecycleConfig) *TenantMarkOverdueCommand {
	return &TenantMarkOverdueCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[TenantStatusInput] = (*TenantMarkOverdueCommand)(nil)

// Execute flags the tenant.
func (c *TenantMarkOverdueCommand) Execute(ctx context.Context, input TenantStatusInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntityTenant, "mark_overdue", err)
	}
	return c.lc.mutateTenant(ctx, tenantMutation{
		operation: "mark_overdue",
		tenantID:  input.TenantID,
		action:    types.ActionStatusChanged,
		actor:     input.Actor,
		request:   input.Request,
		reason:    strings.TrimSpace(input.Reason),
		severity:  types.SeverityWarning,
		apply: func(t *tenant.Tenant, at time.Time) error {
			if t.Status != types.TenantTrial && t.Status != types.TenantActive {
				return fmt.Errorf("%w: cannot mark a %s tenant overdue", types.ErrInvalidTransition, t.Status)
			}
			if err := c.lc.tenantPolicy.Validate(t.Status, types.TenantOverdue); err != nil {
				return err
			}
			t.Status = types.TenantOverdue
			t.OverdueSince = &at
			return nil
		},
	}, input.Result)
}

// TenantActivateCommand converts a trial, or settles an overdue tenant,
// into active.
type TenantActivateCommand struct {
	lc *lifecycle
}

// NewTenantActivateCommand wires the handler.
func NewTenantActivateCommand(cfg LifecycleConfig) *TenantActivateCommand {
	return &TenantActivateCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[TenantStatusInput] = (*TenantActivateCommand)(nil)

// Execute activates the tenant.
func (c *TenantActivateCommand) Execute(ctx context.Context, input TenantStatusInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntityTenant, "activate", err)
	}
	return c.lc.mutateTenant(ctx, tenantMutation{
		operation: "activate",
		tenantID:  input.TenantID,
		action:    types.ActionStatusChanged,
		actor:     input.Actor,
		request:   input.Request,
		reason:    strings.TrimSpace(input.Reason),
		apply: func(t *tenant.Tenant, _ time.Time) error {
			if t.Status != types.TenantTrial && t.Status != types.TenantOverdue {
				return fmt.Errorf("%w: cannot activate a %s tenant", types.ErrInvalidTransition, t.Status)
			}
			if err := c.lc.tenantPolicy.Validate(t.Status, types.TenantActive); err != nil {
				return err
			}
			t.Status = types.TenantActive
			t.OverdueSince = nil
			return nil
		},
	}, input.Result)
}

// TenantExtendTrialInput pushes the trial end out by Days.
type TenantExtendTrialInput struct {
	TenantID uuid.UUID
	Days     int
	Reason   string
	Actor    types.Actor
	Request  types.RequestContext
	Result   *TenantResult
}

// Type implements gocommand.Message.
func (TenantExtendTrialInput) Type() string {
	return "command.tenant.extend_trial"
}

// Validate implements gocommand.Message.
func (input TenantExtendTrialInput) Validate() error {
	switch {
	case input.TenantID == uuid.Nil:
		return ErrTenantIDRequired
	case input.Days <= 0:
		return fmt.Errorf("%w: extension days must be positive", types.ErrValidation)
	}
	return validateActor(input.Actor)
}

// TenantExtendTrialCommand extends a running trial. Gated by the
// tenants.trial_extension feature.
type TenantExtendTrialCommand struct {
	lc *lifecycle
}

// NewTenantExtendTrialCommand wires the handler.
func NewTenantExtendTrialCommand(cfg LifecycleConfig) *TenantExtendTrialCommand {
	return &TenantExtendTrialCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[TenantExtendTrialInput] = (*TenantExtendTrialCommand)(nil)

// Execute extends the trial.
func (c *TenantExtendTrialCommand) Execute(ctx context.Context, input TenantExtendTrialInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntityTenant, "extend_trial", err)
	}
	enabled, err := featureEnabled(ctx, c.lc.gate, featureTenantsTrialExtension, input.TenantID)
	if err != nil {
		return err
	}
	if !enabled {
		return ErrTrialExtensionDisabled
	}
	metadata := map[string]any{"days": input.Days}
	return c.lc.mutateTenant(ctx, tenantMutation{
		operation: "extend_trial",
		tenantID:  input.TenantID,
		action:    types.ActionTrialExtended,
		actor:     input.Actor,
		request:   input.Request,
		reason:    strings.TrimSpace(input.Reason),
		metadata:  metadata,
		apply: func(t *tenant.Tenant, at time.Time) error {
			if t.Status != types.TenantTrial {
				return fmt.Errorf("%w: only trial tenants can be extended, tenant is %s", types.ErrInvalidTransition, t.Status)
			}
			base := at
			if t.TrialEndsAt != nil && t.TrialEndsAt.After(at) {
				base = *t.TrialEndsAt
				metadata["previous_trial_ends_at"] = t.TrialEndsAt.UTC().Format(time.RFC3339)
			}
			end := base.AddDate(0, 0, input.Days)
			t.TrialEndsAt = &end
			return nil
		},
	}, input.Result)
}
