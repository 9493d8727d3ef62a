package syslog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy/internal/testdb"
	"github.com/goliatone/go-tenancy/pkg/types"
)

func newTestStore(t *testing.T, now time.Time) *Repository {
	t.Helper()
	store, err := NewRepository(RepositoryConfig{
		DB:    testdb.New(t),
		Clock: types.FixedClock{At: now},
	})
	require.NoError(t, err)
	return store
}

func TestLogDerivesCategoryAndDefaults(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := newTestStore(t, now)

	id, err := store.Log(ctx, types.SystemLogEntry{
		EventType:  "tenant.provisioning.started",
		Actor:      types.SystemActor(),
		TargetType: "Tenant",
		TargetID:   "t1",
		Message:    "provisioning started",
		Context:    map[string]any{"region": "eu-west-1"},
	})
	require.NoError(t, err)

	entry, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "tenant", entry.Category)
	require.Equal(t, types.SeverityInfo, entry.Severity)
	require.Equal(t, types.LogStatusSuccess, entry.Status)
	require.Equal(t, now, entry.OccurredAt)
	require.Equal(t, "eu-west-1", entry.Context["region"])

	_, err = store.Log(ctx, types.SystemLogEntry{EventType: ""})
	require.ErrorIs(t, err, types.ErrValidation)
	_, err = store.Log(ctx, types.SystemLogEntry{EventType: "auth.login", Severity: "fatal"})
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestQueryCategoryPrefixAndSeverity(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := newTestStore(t, now)

	seed := []types.SystemLogEntry{
		{EventType: "billing.webhook.received", Severity: types.SeverityInfo},
		{EventType: "billing.webhook.failed", Severity: types.SeverityError, Status: types.LogStatusFailed},
		{EventType: "billing", Severity: types.SeverityWarning},
		{EventType: "auth.login.failed", Severity: types.SeverityCritical, Status: types.LogStatusFailed},
		{EventType: "billingx.other", Severity: types.SeverityInfo},
	}
	for i, entry := range seed {
		entry.OccurredAt = now.Add(-time.Duration(i) * time.Minute)
		_, err := store.Log(ctx, entry)
		require.NoError(t, err)
	}

	for _, category := range []string{"billing", "billing.*", "billing."} {
		page, err := store.Query(ctx, types.SystemLogFilter{Category: category})
		require.NoError(t, err)
		require.Equal(t, 3, page.Total, "category %q", category)
	}

	page, err := store.CriticalOrError(ctx, types.SystemLogFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)

	page, err = store.CriticalOrError(ctx, types.SystemLogFilter{Category: "billing.*"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "billing.webhook.failed", page.Entries[0].EventType)

	page, err = store.Query(ctx, types.SystemLogFilter{Severities: []types.Severity{types.SeverityWarning}})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)

	page, err = store.Query(ctx, types.SystemLogFilter{Status: types.LogStatusFailed})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
}

func TestRecent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := newTestStore(t, now)

	for _, age := range []time.Duration{30 * time.Minute, 3 * time.Hour, 30 * time.Hour} {
		_, err := store.Log(ctx, types.SystemLogEntry{EventType: "ai.guardrail.hit", OccurredAt: now.Add(-age)})
		require.NoError(t, err)
	}

	page, err := store.Recent(ctx, 1, types.Pagination{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)

	page, err = store.Recent(ctx, 24, types.Pagination{})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)

	_, err = store.Recent(ctx, 0, types.Pagination{})
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestEntityHistoryAndCorrelation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := newTestStore(t, now)

	ids := make([]uuid.UUID, 0, 3)
	for i, eventType := range []string{"billing.webhook.received", "billing.invoice.paid", "tenant.reactivated"} {
		id, err := store.Log(ctx, types.SystemLogEntry{
			EventType:     eventType,
			TargetType:    "Tenant",
			TargetID:      "t1",
			CorrelationID: "delivery-7",
			OccurredAt:    now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := store.Log(ctx, types.SystemLogEntry{EventType: "tenant.heartbeat", TargetType: "Tenant", TargetID: "t2"})
	require.NoError(t, err)

	history, err := store.EntityHistory(ctx, "Tenant", "t1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, ids[2], history[0].ID)

	related, err := store.RelatedByCorrelation(ctx, ids[1])
	require.NoError(t, err)
	require.Len(t, related, 2)
	require.Equal(t, ids[0], related[0].ID)
	require.Equal(t, ids[2], related[1].ID)
}

func TestRedact(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := newTestStore(t, now)

	id, err := store.Log(ctx, types.SystemLogEntry{
		EventType: "ai.request.blocked",
		Severity:  types.SeverityWarning,
		Context:   map[string]any{"prompt": "my card is 4242", "model": "gpt"},
	})
	require.NoError(t, err)

	require.NoError(t, store.Redact(ctx, id, "prompt", "missing"))

	entry, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, RedactedValue, entry.Context["prompt"])
	require.Equal(t, "gpt", entry.Context["model"])
	require.NotContains(t, entry.Context, "missing")
	require.NotNil(t, entry.RedactedAt)

	require.ErrorIs(t, store.Redact(ctx, uuid.New(), "prompt"), types.ErrNotFound)
	require.ErrorIs(t, store.Redact(ctx, id), types.ErrValidation)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := newTestStore(t, now)

	for _, age := range []time.Duration{time.Hour, 48 * time.Hour, 72 * time.Hour} {
		_, err := store.Log(ctx, types.SystemLogEntry{EventType: "auth.login", OccurredAt: now.Add(-age)})
		require.NoError(t, err)
	}

	removed, err := store.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	page, err := store.Query(ctx, types.SystemLogFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
}
