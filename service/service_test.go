package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy/command"
	"github.com/goliatone/go-tenancy/internal/testdb"
	"github.com/goliatone/go-tenancy/pkg/metrics"
	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/plan"
	"github.com/goliatone/go-tenancy/query"
	"github.com/goliatone/go-tenancy/service"
	"github.com/goliatone/go-tenancy/tenant"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestNewRequiresDB(t *testing.T) {
	_, err := service.New(service.Config{})
	require.ErrorIs(t, err, types.ErrMissingDB)
}

func TestServiceWiresCommandsAndQueries(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	clock := fixedClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

	var transitions []types.TransitionEvent
	svc, err := service.New(service.Config{
		DB:      db,
		Clock:   clock,
		Metrics: metrics.New(prometheus.NewRegistry()),
		Hooks: types.Hooks{
			AfterTenantTransition: func(_ context.Context, evt types.TransitionEvent) {
				transitions = append(transitions, evt)
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, svc.HealthCheck(ctx))
	require.NotNil(t, svc.Outbox())

	starter, err := svc.Plans().Create(ctx, &plan.Plan{Code: "starter", Name: "Starter", MaxSeats: 3, TrialDays: 7, PriceCents: 900})
	require.NoError(t, err)

	provisioned := &command.TenantProvisionResult{}
	require.NoError(t, svc.Commands().TenantProvision.Execute(ctx, command.TenantProvisionInput{
		Name:   "Initech",
		Slug:   "initech",
		PlanID: starter.ID,
		Actor:  types.UserActor("7", "ops@example.com"),
		Result: provisioned,
	}))
	require.Equal(t, types.TenantTrial, provisioned.Tenant.Status)
	require.NotNil(t, provisioned.Subscription)
	require.Len(t, transitions, 1)

	suspended := &command.TenantResult{}
	require.NoError(t, svc.Commands().TenantSuspend.Execute(ctx, command.TenantSuspendInput{
		TenantID: provisioned.Tenant.ID,
		Reason:   "chargeback",
		Actor:    types.UserActor("7", ""),
		Result:   suspended,
	}))
	require.Equal(t, types.TenantSuspended, suspended.Tenant.Status)
	require.Len(t, transitions, 2)
	require.Equal(t, suspended.Audit.ID, transitions[1].AuditID)

	history, err := svc.Queries().EntityHistory.Query(ctx, query.EntityHistoryInput{
		EntityType: types.EntityTenant,
		EntityID:   provisioned.Tenant.ID.String(),
	})
	require.NoError(t, err)
	require.Len(t, history, 2)

	verified, err := svc.Queries().VerifyAudit.Query(ctx, query.EntryInput{ID: suspended.Audit.ID})
	require.NoError(t, err)
	require.True(t, verified.Valid)

	resolved, err := svc.Queries().AuditEntity.Query(ctx, query.EntryInput{ID: suspended.Audit.ID})
	require.NoError(t, err)
	live, ok := resolved.Entity.(*tenant.Tenant)
	require.True(t, ok)
	require.Equal(t, types.TenantSuspended, live.Status)

	detail, err := svc.Queries().TenantDetail.Query(ctx, query.TenantDetailInput{Slug: "initech"})
	require.NoError(t, err)
	require.Equal(t, starter.ID, detail.Plan.ID)
	require.Contains(t, detail.AllowedTransitions, types.TenantActive)

	page, err := svc.Queries().SystemLogFeed.Query(ctx, types.SystemLogFilter{TargetID: provisioned.Tenant.ID.String()})
	require.NoError(t, err)
	require.NotZero(t, page.Total)
}

func TestServiceDisableOutbox(t *testing.T) {
	svc, err := service.New(service.Config{DB: testdb.New(t), DisableOutbox: true})
	require.NoError(t, err)
	require.Nil(t, svc.Outbox())
}
