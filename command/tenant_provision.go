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
	"github.com/goliatone/go-tenancy/plan"
	"github.com/goliatone/go-tenancy/subscription"
	"github.com/goliatone/go-tenancy/tenant"
)

// TenantProvisionInput creates a tenant and, when a plan is given, its first
// subscription. An empty Status starts a trial when the plan offers one.
type TenantProvisionInput struct {
	Name     string
	Slug     string
	Domain   string
	PlanID   uuid.UUID
	Status   types.TenantStatus
	Metadata map[string]any
	Actor    types.Actor
	Request  types.RequestContext
	Result   *TenantProvisionResult
}

// TenantProvisionResult carries the created rows and their ledger entries.
type TenantProvisionResult struct {
	Tenant       *tenant.Tenant
	Subscription *subscription.Subscription
	Audits       []types.AuditEntry
}

// Type implements gocommand.Message.
func (TenantProvisionInput) Type() string {
	return "command.tenant.provision"
}

// Validate implements gocommand.Message.
func (input TenantProvisionInput) Validate() error {
	slug := strings.TrimSpace(input.Slug)
	switch {
	case strings.TrimSpace(input.Name) == "":
		return fmt.Errorf("%w: tenant name required", types.ErrValidation)
	case slug == "":
		return fmt.Errorf("%w: tenant slug required", types.ErrValidation)
	case slug != strings.ToLower(slug) || strings.ContainsAny(slug, " /"):
		return fmt.Errorf("%w: malformed tenant slug %q", types.ErrValidation, slug)
	case input.Status != "" && input.Status != types.TenantTrial && input.Status != types.TenantActive:
		return fmt.Errorf("%w: tenants start in trial or active, not %q", types.ErrValidation, input.Status)
	}
	return validateActor(input.Actor)
}

// TenantProvisionCommand inserts the tenant with provisioning pending.
type TenantProvisionCommand struct {
	lc *lifecycle
}

// NewTenantProvisionCommand wires the handler.
func NewTenantProvisionCommand(cfg LifecycleConfig) *TenantProvisionCommand {
	return &TenantProvisionCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[TenantProvisionInput] = (*TenantProvisionCommand)(nil)

// Execute creates the tenant.
func (c *TenantProvisionCommand) Execute(ctx context.Context, input TenantProvisionInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntityTenant, "provision", err)
	}
	withPlan := input.PlanID != uuid.Nil
	if err := c.lc.ready(withPlan); err != nil {
		return err
	}
	if withPlan && c.lc.plans == nil {
		return fmt.Errorf("%w: plan catalog", types.ErrMissingDB)
	}

	var (
		created *tenant.Tenant
		sub     *subscription.Subscription
	)
	written, err := c.lc.commit(ctx, func(ctx context.Context, tx bun.Tx) (*outcome, error) {
		at := now(c.lc.clock)
		var p *plan.Plan
		if withPlan {
			found, err := c.lc.plans.GetTx(ctx, tx, input.PlanID)
			if err != nil {
				return nil, err
			}
			p = found
		}
		status := input.Status
		if status == "" {
			status = types.TenantActive
			if p != nil && p.TrialDays > 0 {
				status = types.TenantTrial
			}
		}

		created = &tenant.Tenant{
			ID:                 c.lc.idGen.UUID(),
			Name:               strings.TrimSpace(input.Name),
			Slug:               strings.TrimSpace(input.Slug),
			Domain:             strings.TrimSpace(input.Domain),
			Status:             status,
			ProvisioningStatus: types.ProvisioningPending,
			Metadata:           cloneMap(input.Metadata),
			CreatedAt:          at,
		}
		if p != nil {
			created.PlanID = p.ID
			if status == types.TenantTrial {
				created.TrialEndsAt = p.TrialEnd(at)
			}
		}
		if err := c.lc.tenants.InsertTx(ctx, tx, created); err != nil {
			return nil, err
		}

		out := &outcome{
			steps: []step{{
				audit:      c.lc.tenantAudit(types.ActionCreated, nil, created, input.Actor, input.Request, "", input.Metadata),
				transition: c.lc.transition(types.EntityTenant, created.ID, created.ID, types.ActionCreated, "", string(created.Status), input.Actor, ""),
			}},
			logs: []types.SystemLogEntry{tenantLog(created, tenantMutation{
				action:  types.ActionCreated,
				actor:   input.Actor,
				request: input.Request,
			}, "", string(created.Status))},
		}
		if p == nil {
			return out, nil
		}

		subStep, err := c.startSubscription(ctx, tx, created, p, at, input.Actor, input.Request)
		if err != nil {
			return nil, err
		}
		sub = subStep.subscription
		out.steps = append(out.steps, subStep.step)
		return out, nil
	})
	if err != nil {
		return c.lc.reject(types.EntityTenant, "provision", err, "slug", input.Slug)
	}
	if input.Result != nil {
		input.Result.Tenant = created
		input.Result.Subscription = sub
		input.Result.Audits = written
	}
	return nil
}

type subscriptionStart struct {
	subscription *subscription.Subscription
	step         step
}

func (c *TenantProvisionCommand) startSubscription(ctx context.Context, tx bun.Tx, t *tenant.Tenant, p *plan.Plan, at time.Time, actor types.Actor, req types.RequestContext) (subscriptionStart, error) {
	status := types.SubscriptionActive
	event := types.HistoryCreated
	if t.Status == types.TenantTrial && t.TrialEndsAt != nil {
		status = types.SubscriptionTrial
		event = types.HistoryTrialStarted
	}
	periodEnd := p.PeriodEnd(at)
	sub := &subscription.Subscription{
		ID:                 c.lc.idGen.UUID(),
		TenantID:           t.ID,
		PlanID:             p.ID,
		Status:             status,
		TrialEndsAt:        t.TrialEndsAt,
		CurrentPeriodStart: &at,
		CurrentPeriodEnd:   &periodEnd,
		AutoRenew:          true,
		CreatedAt:          at,
	}
	if err := c.lc.subscriptions.InsertTx(ctx, tx, sub); err != nil {
		return subscriptionStart{}, err
	}
	if err := c.lc.subscriptions.InsertHistoryTx(ctx, tx, &subscription.History{
		SubscriptionID: sub.ID,
		TenantID:       t.ID,
		EventType:      event,
		ToStatus:       string(status),
		ToPlanID:       p.ID,
		ActorType:      string(actor.Kind),
		ActorID:        actor.ID,
		OccurredAt:     at,
	}); err != nil {
		return subscriptionStart{}, err
	}
	return subscriptionStart{
		subscription: sub,
		step: step{
			audit:      c.lc.subscriptionAudit(types.ActionCreated, nil, sub, actor, req, "", map[string]any{"plan_code": p.Code}),
			transition: c.lc.transition(types.EntitySubscription, sub.ID, t.ID, types.ActionCreated, "", string(status), actor, ""),
		},
	}, nil
}

// TenantProvisioningInput records progress reported by the provisioning
// collaborator.
type TenantProvisioningInput struct {
	TenantID uuid.UUID
	Status   types.ProvisioningStatus
	Error    string
	Actor    types.Actor
	Request  types.RequestContext
	Result   *TenantResult
}

// Type implements gocommand.Message.
func (TenantProvisioningInput) Type() string {
	return "command.tenant.provisioning"
}

// Validate implements gocommand.Message.
func (input TenantProvisioningInput) Validate() error {
	switch {
	case input.TenantID == uuid.Nil:
		return ErrTenantIDRequired
	case !input.Status.Valid():
		return fmt.Errorf("%w: unknown provisioning status %q", types.ErrValidation, input.Status)
	}
	return validateActor(input.Actor)
}

// TenantProvisioningCommand advances the provisioning axis. Billing status
// is untouched.
type TenantProvisioningCommand struct {
	lc *lifecycle
}

// NewTenantProvisioningCommand wires the handler.
func NewTenantProvisioningCommand(cfg LifecycleConfig) *TenantProvisioningCommand {
	return &TenantProvisioningCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[TenantProvisioningInput] = (*TenantProvisioningCommand)(nil)

// Execute records the provisioning step.
func (c *TenantProvisioningCommand) Execute(ctx context.Context, input TenantProvisioningInput) error {
	if err := input.Validate(); err != nil {
		return c.lc.reject(types.EntityTenant, "provisioning", err)
	}
	severity := types.SeverityInfo
	metadata := map[string]any{"provisioning_status": string(input.Status)}
	if input.Status == types.ProvisioningFailed {
		severity = types.SeverityError
		if input.Error != "" {
			metadata["error"] = input.Error
		}
	}
	return c.lc.mutateTenant(ctx, tenantMutation{
		operation: "provisioning",
		tenantID:  input.TenantID,
		action:    types.ActionProvisioned,
		actor:     input.Actor,
		request:   input.Request,
		metadata:  metadata,
		severity:  severity,
		state: func(t *tenant.Tenant) string {
			return string(t.ProvisioningStatus)
		},
		apply: func(t *tenant.Tenant, at time.Time) error {
			if err := c.lc.provisioningPolicy.Validate(t.ProvisioningStatus, input.Status); err != nil {
				return err
			}
			t.ProvisioningStatus = input.Status
			switch input.Status {
			case types.ProvisioningReady:
				t.ProvisionedAt = &at
				t.ProvisioningError = nil
			case types.ProvisioningFailed:
				msg := strings.TrimSpace(input.Error)
				if msg == "" {
					msg = "provisioning failed"
				}
				t.ProvisioningError = &msg
			default:
				t.ProvisioningError = nil
			}
			return nil
		},
	}, input.Result)
}

// TenantHeartbeatInput reports tenant health.
type TenantHeartbeatInput struct {
	TenantID   uuid.UUID
	HealthData map[string]any
	Result     *TenantResult
}

// Type implements gocommand.Message.
func (TenantHeartbeatInput) Type() string {
	return "command.tenant.heartbeat"
}

// Validate implements gocommand.Message.
func (input TenantHeartbeatInput) Validate() error {
	if input.TenantID == uuid.Nil {
		return ErrTenantIDRequired
	}
	return nil
}

// TenantHeartbeatCommand stamps last_heartbeat_at and merges health data.
// It writes no ledger entry and works in any billing status.
type TenantHeartbeatCommand struct {
	lc *lifecycle
}

// NewTenantHeartbeatCommand wires the handler.
func NewTenantHeartbeatCommand(cfg LifecycleConfig) *TenantHeartbeatCommand {
	return &TenantHeartbeatCommand{lc: newLifecycle(cfg)}
}

var _ gocommand.Commander[TenantHeartbeatInput] = (*TenantHeartbeatCommand)(nil)

// Execute records the heartbeat.
func (c *TenantHeartbeatCommand) Execute(ctx context.Context, input TenantHeartbeatInput) error {
	if err := input.Validate(); err != nil {
		return err
	}
	if c.lc.db == nil || c.lc.tenants == nil {
		return types.ErrMissingDB
	}
	var updated *tenant.Tenant
	err := c.lc.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := c.lc.tenants.LockTx(ctx, tx, input.TenantID)
		if err != nil {
			return err
		}
		at := now(c.lc.clock)
		health := cloneMap(current.HealthData)
		if health == nil {
			health = map[string]any{}
		}
		for k, v := range input.HealthData {
			health[k] = v
		}
		current.HealthData = health
		current.LastHeartbeatAt = &at
		if err := c.lc.tenants.UpdateTx(ctx, tx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return c.lc.reject(types.EntityTenant, "heartbeat", err, "tenant_id", input.TenantID)
	}
	if input.Result != nil {
		input.Result.Tenant = updated
	}
	return nil
}
