package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	featuregate "github.com/goliatone/go-featuregate/gate"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/internal/testdb"
	"github.com/goliatone/go-tenancy/ledger"
	"github.com/goliatone/go-tenancy/outbox"
	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/plan"
	"github.com/goliatone/go-tenancy/subscription"
	"github.com/goliatone/go-tenancy/syslog"
	"github.com/goliatone/go-tenancy/tenant"
)

var testStart = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMetrics struct {
	mu          sync.Mutex
	transitions []string
	rejected    []string
}

func (m *recordingMetrics) ObserveTransition(entityType types.EntityType, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, string(entityType)+":"+from+"->"+to)
}

func (m *recordingMetrics) IncRejected(entityType types.EntityType, operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, string(entityType)+":"+operation)
}

type stubFeatureGate struct {
	enabled bool
	err     error
	keys    []string
	chains  []featuregate.ScopeChain
}

func (s *stubFeatureGate) Enabled(_ context.Context, key string, opts ...featuregate.ResolveOption) (bool, error) {
	s.keys = append(s.keys, key)
	req := &featuregate.ResolveRequest{}
	for _, opt := range opts {
		opt(req)
	}
	if req.ScopeChain != nil {
		s.chains = append(s.chains, *req.ScopeChain)
	}
	if s.err != nil {
		return false, s.err
	}
	return s.enabled, nil
}

type failingOutbox struct {
	outbox.Store
}

func (failingOutbox) AppendTx(context.Context, bun.IDB, *outbox.Entry) error {
	return errors.New("outbox unavailable")
}

type harness struct {
	t       *testing.T
	db      *bun.DB
	clock   *testClock
	cfg     LifecycleConfig
	ledger  *ledger.Repository
	syslog  *syslog.Repository
	tenants *tenant.Store
	subs    *subscription.Store
	plans   *plan.Catalog
	basic   *plan.Plan
	pro     *plan.Plan
	metrics *recordingMetrics
	events  []types.TransitionEvent
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, testdb.New(t))
}

func newHarnessOn(t *testing.T, db *bun.DB) *harness {
	t.Helper()
	ctx := context.Background()
	clock := &testClock{now: testStart}

	h := &harness{t: t, db: db, clock: clock, metrics: &recordingMetrics{}}

	var err error
	h.ledger, err = ledger.NewRepository(ledger.RepositoryConfig{DB: db, Clock: clock})
	require.NoError(t, err)
	h.syslog, err = syslog.NewRepository(syslog.RepositoryConfig{DB: db, Clock: clock})
	require.NoError(t, err)
	h.tenants, err = tenant.NewStore(tenant.StoreConfig{DB: db, Clock: clock})
	require.NoError(t, err)
	h.subs, err = subscription.NewStore(subscription.StoreConfig{DB: db, Clock: clock})
	require.NoError(t, err)
	h.plans, err = plan.NewCatalog(plan.CatalogConfig{DB: db, Clock: clock})
	require.NoError(t, err)
	box, err := outbox.NewBunStore(db)
	require.NoError(t, err)

	h.basic, err = h.plans.Create(ctx, &plan.Plan{Code: "basic", Name: "Basic", MaxSeats: 5, TrialDays: 14, PriceCents: 1000})
	require.NoError(t, err)
	h.pro, err = h.plans.Create(ctx, &plan.Plan{Code: "pro", Name: "Pro", MaxSeats: 50, PriceCents: 5000})
	require.NoError(t, err)

	h.cfg = LifecycleConfig{
		DB:            db,
		Tenants:       h.tenants,
		Subscriptions: h.subs,
		Plans:         h.plans,
		Ledger:        h.ledger,
		Outbox:        box,
		SystemLog:     h.syslog,
		Metrics:       h.metrics,
		Clock:         clock,
		Hooks: types.Hooks{
			AfterTenantTransition: func(_ context.Context, event types.TransitionEvent) {
				h.events = append(h.events, event)
			},
			AfterSubscriptionTransition: func(_ context.Context, event types.TransitionEvent) {
				h.events = append(h.events, event)
			},
		},
	}
	return h
}

func (h *harness) tick() {
	h.clock.Advance(time.Minute)
}

func (h *harness) provision(slug string, planID uuid.UUID) TenantProvisionResult {
	h.t.Helper()
	var res TenantProvisionResult
	err := NewTenantProvisionCommand(h.cfg).Execute(context.Background(), TenantProvisionInput{
		Name:   "Acme " + slug,
		Slug:   slug,
		PlanID: planID,
		Actor:  operator(),
		Result: &res,
	})
	require.NoError(h.t, err)
	h.tick()
	return res
}

func (h *harness) tenantAudit(id uuid.UUID) []types.AuditEntry {
	h.t.Helper()
	entries, err := h.ledger.EntityHistory(context.Background(), types.EntityTenant, id.String())
	require.NoError(h.t, err)
	return entries
}

func (h *harness) subscriptionAudit(id uuid.UUID) []types.AuditEntry {
	h.t.Helper()
	entries, err := h.ledger.EntityHistory(context.Background(), types.EntitySubscription, id.String())
	require.NoError(h.t, err)
	return entries
}

func (h *harness) history(id uuid.UUID) []types.HistoryEvent {
	h.t.Helper()
	rows, err := h.subs.History(context.Background(), id)
	require.NoError(h.t, err)
	out := make([]types.HistoryEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func (h *harness) outboxCount() int {
	h.t.Helper()
	count, err := h.db.NewSelect().Model((*outbox.Entry)(nil)).Count(context.Background())
	require.NoError(h.t, err)
	return count
}

func operator() types.Actor {
	return types.UserActor("42", "ops@example.com")
}

func actionsOf(entries []types.AuditEntry) []types.Action {
	out := make([]types.Action, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Action)
	}
	return out
}

func findAction(t *testing.T, entries []types.AuditEntry, action types.Action) types.AuditEntry {
	t.Helper()
	for _, entry := range entries {
		if entry.Action == action {
			return entry
		}
	}
	t.Fatalf("no %s entry in %v", action, actionsOf(entries))
	return types.AuditEntry{}
}
