package query

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy/command"
	"github.com/goliatone/go-tenancy/internal/testdb"
	"github.com/goliatone/go-tenancy/ledger"
	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/plan"
	"github.com/goliatone/go-tenancy/subscription"
	"github.com/goliatone/go-tenancy/syslog"
	"github.com/goliatone/go-tenancy/tenant"
)

var queryNow = time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

type env struct {
	ledger  *ledger.Repository
	syslog  *syslog.Repository
	tenants *tenant.Store
	subs    *subscription.Store
	plans   *plan.Catalog
	clock   types.Clock
	tenant  *tenant.Tenant
	sub     *subscription.Subscription
	starter *plan.Plan
	scale   *plan.Plan
}

func newEnv(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	db := testdb.New(t)
	clock := types.FixedClock{At: queryNow}

	var (
		e   = env{clock: clock}
		err error
	)
	e.ledger, err = ledger.NewRepository(ledger.RepositoryConfig{DB: db, Clock: clock})
	require.NoError(t, err)
	e.syslog, err = syslog.NewRepository(syslog.RepositoryConfig{DB: db, Clock: clock})
	require.NoError(t, err)
	e.tenants, err = tenant.NewStore(tenant.StoreConfig{DB: db, Clock: clock})
	require.NoError(t, err)
	e.subs, err = subscription.NewStore(subscription.StoreConfig{DB: db, Clock: clock})
	require.NoError(t, err)
	e.plans, err = plan.NewCatalog(plan.CatalogConfig{DB: db, Clock: clock})
	require.NoError(t, err)

	e.starter, err = e.plans.Create(ctx, &plan.Plan{Code: "starter", Name: "Starter", MaxSeats: 3, MaxStorageMB: 1024, MaxAIRequests: 100, TrialDays: 10, PriceCents: 900})
	require.NoError(t, err)
	e.scale, err = e.plans.Create(ctx, &plan.Plan{Code: "scale", Name: "Scale", MaxSeats: 100, PriceCents: 9900, BillingPeriod: plan.PeriodYearly})
	require.NoError(t, err)

	cfg := command.LifecycleConfig{
		DB:            db,
		Tenants:       e.tenants,
		Subscriptions: e.subs,
		Plans:         e.plans,
		Ledger:        e.ledger,
		SystemLog:     e.syslog,
		Clock:         clock,
	}
	var res command.TenantProvisionResult
	require.NoError(t, command.NewTenantProvisionCommand(cfg).Execute(ctx, command.TenantProvisionInput{
		Name:    "Globex",
		Slug:    "globex",
		PlanID:  e.starter.ID,
		Actor:   types.UserActor("7", "admin@globex.test"),
		Request: types.RequestContext{CorrelationID: "req-1"},
		Result:  &res,
	}))
	require.NoError(t, command.NewSubscriptionChangePlanCommand(cfg).Execute(ctx, command.SubscriptionChangePlanInput{
		SubscriptionID: res.Subscription.ID,
		PlanID:         e.scale.ID,
		ChangeType:     types.ChangeNextPeriod,
		Actor:          types.UserActor("7", ""),
	}))
	e.tenant = res.Tenant
	e.sub = res.Subscription
	return e
}

func TestAuditQueries(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	page, err := NewAuditFeedQuery(e.ledger).Query(ctx, types.AuditFilter{TenantID: e.tenant.ID})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)

	_, err = NewAuditFeedQuery(e.ledger).Query(ctx, types.AuditFilter{EntityID: "x"})
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = NewAuditFeedQuery(nil).Query(ctx, types.AuditFilter{})
	require.ErrorIs(t, err, types.ErrMissingLedger)

	stats, err := NewAuditStatsQuery(e.ledger).Query(ctx, types.AuditFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, stats.ByAction[types.ActionCreated])
	require.Equal(t, 1, stats.ByAction[types.ActionPlanChanged])

	history, err := NewEntityHistoryQuery(e.ledger).Query(ctx, EntityHistoryInput{
		EntityType: types.EntitySubscription,
		EntityID:   e.sub.ID.String(),
	})
	require.NoError(t, err)
	require.Len(t, history, 2)

	var created types.AuditEntry
	for _, entry := range history {
		if entry.Action == types.ActionCreated {
			created = entry
		}
	}
	require.NotEqual(t, uuid.Nil, created.ID)

	related, err := NewRelatedAuditQuery(e.ledger).Query(ctx, EntryInput{ID: created.ID})
	require.NoError(t, err)
	require.Len(t, related, 1)
	require.Equal(t, types.EntityTenant, related[0].EntityType)

	verified, err := NewVerifyAuditQuery(e.ledger).Query(ctx, EntryInput{ID: history[0].ID})
	require.NoError(t, err)
	require.True(t, verified.Valid)

	_, err = NewVerifyAuditQuery(e.ledger).Query(ctx, EntryInput{})
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestAuditEntityQueryResolvesLiveEntity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	resolver := ledger.NewEntityResolver()
	require.NoError(t, resolver.Register(types.EntityTenant, func(ctx context.Context, id string) (any, error) {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		return e.tenants.Get(ctx, parsed)
	}))

	history, err := e.ledger.EntityHistory(ctx, types.EntityTenant, e.tenant.ID.String())
	require.NoError(t, err)
	require.Len(t, history, 1)

	resolved, err := NewAuditEntityQuery(e.ledger, resolver).Query(ctx, EntryInput{ID: history[0].ID})
	require.NoError(t, err)
	live, ok := resolved.Entity.(*tenant.Tenant)
	require.True(t, ok)
	require.Equal(t, "globex", live.Slug)

	subHistory, err := e.ledger.EntityHistory(ctx, types.EntitySubscription, e.sub.ID.String())
	require.NoError(t, err)
	unresolved, err := NewAuditEntityQuery(e.ledger, resolver).Query(ctx, EntryInput{ID: subHistory[0].ID})
	require.NoError(t, err)
	require.Nil(t, unresolved.Entity)
}

func TestSystemLogQueries(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	page, err := NewSystemLogFeedQuery(e.syslog).Query(ctx, types.SystemLogFilter{Category: "subscription.*"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "subscription.plan_changed", page.Entries[0].EventType)

	history, err := NewSystemLogHistoryQuery(e.syslog).Query(ctx, TargetHistoryInput{
		TargetType: string(types.EntityTenant),
		TargetID:   e.tenant.ID.String(),
	})
	require.NoError(t, err)
	require.Len(t, history, 1)

	_, err = NewSystemLogHistoryQuery(e.syslog).Query(ctx, TargetHistoryInput{})
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = NewSystemLogFeedQuery(e.syslog).Query(ctx, types.SystemLogFilter{Severities: []types.Severity{"loud"}})
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestTenantDetailQuery(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	q := NewTenantDetailQuery(TenantDetailConfig{
		Tenants:       e.tenants,
		Subscriptions: e.subs,
		Plans:         e.plans,
		Clock:         e.clock,
	})
	detail, err := q.Query(ctx, TenantDetailInput{Slug: "globex"})
	require.NoError(t, err)
	require.Equal(t, e.tenant.ID, detail.Tenant.ID)
	require.Equal(t, e.starter.ID, detail.Plan.ID)
	require.Equal(t, e.sub.ID, detail.Subscription.ID)
	require.True(t, detail.OnTrial)
	require.NotNil(t, detail.DaysUntilTrialEnds)
	require.Equal(t, 10, *detail.DaysUntilTrialEnds)
	require.Equal(t, 3, detail.Usage.Limits.MaxSeats)
	require.EqualValues(t, 1024, detail.Usage.Limits.MaxStorageMB)
	require.Equal(t, []types.TenantStatus{types.TenantActive, types.TenantCancelled, types.TenantOverdue, types.TenantSuspended}, detail.AllowedTransitions)

	_, err = q.Query(ctx, TenantDetailInput{})
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = q.Query(ctx, TenantDetailInput{ID: uuid.New()})
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestTenantListAndTrialsEnding(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	page, err := NewTenantListQuery(e.tenants).Query(ctx, tenant.Filter{Search: "glob"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)

	ending, err := NewTrialsEndingQuery(e.tenants, e.clock).Query(ctx, TrialsEndingInput{Days: 14})
	require.NoError(t, err)
	require.Equal(t, 1, ending.Total)

	ending, err = NewTrialsEndingQuery(e.tenants, e.clock).Query(ctx, TrialsEndingInput{Days: 3})
	require.NoError(t, err)
	require.Equal(t, 0, ending.Total)

	_, err = NewTrialsEndingQuery(e.tenants, e.clock).Query(ctx, TrialsEndingInput{})
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestSubscriptionQueries(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	pending, err := NewSubscriptionListQuery(e.subs, e.clock).Query(ctx, subscription.Filter{WithPendingChanges: true})
	require.NoError(t, err)
	require.Equal(t, 1, pending.Total)

	expiring, err := NewSubscriptionListQuery(e.subs, e.clock).Query(ctx, subscription.Filter{ExpiringWithinDays: 60})
	require.NoError(t, err)
	require.Equal(t, 0, expiring.Total, "auto renewing subscriptions are never expiring")

	detail, err := NewSubscriptionDetailQuery(e.subs, e.plans, e.clock).Query(ctx, SubscriptionInput{ID: e.sub.ID})
	require.NoError(t, err)
	require.Equal(t, e.starter.ID, detail.Plan.ID)
	require.NotNil(t, detail.PendingPlan)
	require.Equal(t, e.scale.ID, detail.PendingPlan.ID)
	require.True(t, detail.OnTrial)
	require.Len(t, detail.History, 2)
	require.NotNil(t, detail.DaysUntilPeriodEnds)

	plans, err := NewPlanListQuery(e.plans).Query(ctx, PlanListInput{})
	require.NoError(t, err)
	require.Len(t, plans, 2)
	require.Equal(t, "starter", plans[0].Code)
}
