package command

import (
	"context"
	"errors"
	"fmt"

	featuregate "github.com/goliatone/go-featuregate/gate"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/ledger"
	"github.com/goliatone/go-tenancy/outbox"
	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/plan"
	"github.com/goliatone/go-tenancy/subscription"
	"github.com/goliatone/go-tenancy/tenant"
)

// TransitionRecorder receives lifecycle measurements. pkg/metrics provides
// the Prometheus implementation.
type TransitionRecorder interface {
	ObserveTransition(entityType types.EntityType, from, to string)
	IncRejected(entityType types.EntityType, operation string)
}

// LifecycleConfig wires every tenant and subscription command.
type LifecycleConfig struct {
	DB                 *bun.DB
	Tenants            *tenant.Store
	Subscriptions      *subscription.Store
	Plans              *plan.Catalog
	Ledger             *ledger.Repository
	Outbox             outbox.Store
	SystemLog          types.SystemLogSink
	TenantPolicy       types.TransitionPolicy[types.TenantStatus]
	ProvisioningPolicy types.TransitionPolicy[types.ProvisioningStatus]
	SubscriptionPolicy types.TransitionPolicy[types.SubscriptionStatus]
	FeatureGate        featuregate.FeatureGate
	Metrics            TransitionRecorder
	Clock              types.Clock
	IDGen              types.IDGenerator
	Logger             types.Logger
	Hooks              types.Hooks
}

// lifecycle is the shared transaction pipeline behind every state machine
// command.
type lifecycle struct {
	db                 *bun.DB
	tenants            *tenant.Store
	subscriptions      *subscription.Store
	plans              *plan.Catalog
	ledger             *ledger.Repository
	outbox             outbox.Store
	syslog             types.SystemLogSink
	tenantPolicy       types.TransitionPolicy[types.TenantStatus]
	provisioningPolicy types.TransitionPolicy[types.ProvisioningStatus]
	subscriptionPolicy types.TransitionPolicy[types.SubscriptionStatus]
	gate               featuregate.FeatureGate
	metrics            TransitionRecorder
	clock              types.Clock
	idGen              types.IDGenerator
	logger             types.Logger
	hooks              types.Hooks
}

func newLifecycle(cfg LifecycleConfig) *lifecycle {
	tenantPolicy := cfg.TenantPolicy
	if tenantPolicy == nil {
		tenantPolicy = types.DefaultTenantPolicy()
	}
	provisioningPolicy := cfg.ProvisioningPolicy
	if provisioningPolicy == nil {
		provisioningPolicy = types.DefaultProvisioningPolicy()
	}
	subscriptionPolicy := cfg.SubscriptionPolicy
	if subscriptionPolicy == nil {
		subscriptionPolicy = types.DefaultSubscriptionPolicy()
	}
	idGen := cfg.IDGen
	if idGen == nil {
		idGen = types.UUIDGenerator{}
	}
	return &lifecycle{
		db:                 cfg.DB,
		tenants:            cfg.Tenants,
		subscriptions:      cfg.Subscriptions,
		plans:              cfg.Plans,
		ledger:             cfg.Ledger,
		outbox:             cfg.Outbox,
		syslog:             cfg.SystemLog,
		tenantPolicy:       tenantPolicy,
		provisioningPolicy: provisioningPolicy,
		subscriptionPolicy: subscriptionPolicy,
		gate:               cfg.FeatureGate,
		metrics:            cfg.Metrics,
		clock:              safeClock(cfg.Clock),
		idGen:              idGen,
		logger:             safeLogger(cfg.Logger),
		hooks:              cfg.Hooks,
	}
}

func (l *lifecycle) ready(needSubscriptions bool) error {
	switch {
	case l.db == nil:
		return types.ErrMissingDB
	case l.ledger == nil:
		return types.ErrMissingLedger
	case l.tenants == nil:
		return fmt.Errorf("%w: tenant store", types.ErrMissingDB)
	case needSubscriptions && l.subscriptions == nil:
		return fmt.Errorf("%w: subscription store", types.ErrMissingDB)
	}
	return nil
}

// step is one documented change inside a transaction: a ledger entry and,
// when the entity status moved, the transition announced after commit.
type step struct {
	audit      types.AuditEntry
	transition *types.TransitionEvent
}

// outcome is what a transaction body hands back to the pipeline.
type outcome struct {
	steps []step
	logs  []types.SystemLogEntry
}

// commit runs body in one transaction, appends every ledger entry with its
// outbox row inside the same transaction, then runs the post commit side
// effects. Nothing after commit can fail the operation.
func (l *lifecycle) commit(ctx context.Context, body func(ctx context.Context, tx bun.Tx) (*outcome, error)) ([]types.AuditEntry, error) {
	var (
		result  *outcome
		written []types.AuditEntry
	)
	err := l.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		written = written[:0]
		out, err := body(ctx, tx)
		if err != nil {
			return err
		}
		for _, s := range out.steps {
			saved, err := l.ledger.AppendTx(ctx, tx, s.audit)
			if err != nil {
				return err
			}
			if l.outbox != nil {
				if err := l.outbox.AppendTx(ctx, tx, outbox.FromAudit(saved)); err != nil {
					return fmt.Errorf("outbox: %w", err)
				}
			}
			written = append(written, saved)
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.ledger.Committed(ctx, written...)
	for i, s := range result.steps {
		if s.transition == nil {
			continue
		}
		event := *s.transition
		event.AuditID = written[i].ID
		if l.metrics != nil {
			l.metrics.ObserveTransition(event.EntityType, event.FromState, event.ToState)
		}
		emitTransitionHook(ctx, l.hooks, event)
	}
	l.writeLogs(ctx, result.logs...)
	return written, nil
}

func (l *lifecycle) writeLogs(ctx context.Context, entries ...types.SystemLogEntry) {
	if l.syslog == nil {
		return
	}
	for _, entry := range entries {
		if _, err := l.syslog.Log(ctx, entry); err != nil {
			l.logger.Error("system log write failed", err, "event_type", entry.EventType)
		}
	}
}

// reject records a refused operation. Validation and transition errors are
// expected outcomes and log at debug; anything else is an error.
func (l *lifecycle) reject(entityType types.EntityType, operation string, err error, fields ...any) error {
	if err == nil {
		return nil
	}
	fields = append(fields, "operation", operation)
	if errors.Is(err, types.ErrInvalidTransition) || errors.Is(err, types.ErrValidation) || errors.Is(err, types.ErrNotFound) {
		l.logger.Debug("lifecycle operation rejected", append(fields, "error", err.Error())...)
		if l.metrics != nil {
			l.metrics.IncRejected(entityType, operation)
		}
		return err
	}
	l.logger.Error("lifecycle operation failed", err, fields...)
	return err
}

func (l *lifecycle) tenantAudit(action types.Action, before, after *tenant.Tenant, actor types.Actor, req types.RequestContext, reason string, metadata map[string]any) types.AuditEntry {
	return types.AuditEntry{
		OccurredAt:  now(l.clock),
		Actor:       actor,
		Action:      action,
		EntityType:  types.EntityTenant,
		EntityID:    after.ID.String(),
		EntityLabel: after.Name,
		TenantID:    after.ID,
		Request:     req,
		Reason:      reason,
		Before:      before.Snapshot(),
		After:       after.Snapshot(),
		Metadata:    cloneMap(metadata),
	}
}

func (l *lifecycle) subscriptionAudit(action types.Action, before, after *subscription.Subscription, actor types.Actor, req types.RequestContext, reason string, metadata map[string]any) types.AuditEntry {
	return types.AuditEntry{
		OccurredAt: now(l.clock),
		Actor:      actor,
		Action:     action,
		EntityType: types.EntitySubscription,
		EntityID:   after.ID.String(),
		TenantID:   after.TenantID,
		Request:    req,
		Reason:     reason,
		Before:     before.Snapshot(),
		After:      after.Snapshot(),
		Metadata:   cloneMap(metadata),
	}
}

func (l *lifecycle) transition(entityType types.EntityType, entityID, tenantID uuid.UUID, action types.Action, from, to string, actor types.Actor, reason string) *types.TransitionEvent {
	if from == to {
		return nil
	}
	return &types.TransitionEvent{
		EntityType: entityType,
		EntityID:   entityID,
		TenantID:   tenantID,
		Action:     action,
		FromState:  from,
		ToState:    to,
		Actor:      actor,
		Reason:     reason,
		OccurredAt: now(l.clock),
	}
}
