package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/internal/testdb"
	"github.com/goliatone/go-tenancy/pkg/types"
)

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	current := c.now
	c.now = c.now.Add(c.step)
	return current
}

type recordingMetrics struct {
	appends    []types.Action
	mismatches []types.EntityType
}

func (m *recordingMetrics) ObserveAppend(action types.Action, _ types.EntityType) {
	m.appends = append(m.appends, action)
}

func (m *recordingMetrics) IncIntegrityMismatch(entityType types.EntityType) {
	m.mismatches = append(m.mismatches, entityType)
}

func newTestLedger(t *testing.T) (*Repository, *recordingMetrics) {
	t.Helper()
	db := testdb.New(t)
	metrics := &recordingMetrics{}
	repo, err := NewRepository(RepositoryConfig{
		DB:      db,
		Clock:   &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), step: time.Minute},
		Metrics: metrics,
	})
	require.NoError(t, err)
	return repo, metrics
}

func suspendEntry(tenantID string) types.AuditEntry {
	return types.AuditEntry{
		Actor:      types.UserActor("42", "admin@example.com"),
		Action:     types.ActionSuspended,
		EntityType: types.EntityTenant,
		EntityID:   tenantID,
		Reason:     "non-payment",
		Before:     map[string]any{"status": "trial"},
		After:      map[string]any{"status": "suspended"},
	}
}

func TestAppendVerifiesImmediately(t *testing.T) {
	ctx := context.Background()
	repo, metrics := newTestLedger(t)

	entry := suspendEntry("t1")
	entry.Changes = []types.Change{
		{Field: "status", Old: "trial", New: "suspended"},
		{Field: "max_seats", Old: 5, New: 10},
		{Field: "health", Old: nil, New: map[string]any{"b": 2, "a": []any{1, "x"}}},
	}
	id, err := repo.Append(ctx, entry)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	require.Equal(t, uuid.Version(7), id.Version())

	ok, err := repo.Verify(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored.Checksum, 64)
	require.Equal(t, "non-payment", stored.Reason)
	require.Equal(t, "trial", stored.Before["status"])
	require.Equal(t, "42", stored.Actor.ID)
	require.Equal(t, []types.Action{types.ActionSuspended}, metrics.appends)
}

func TestAppendDerivesChangesFromSnapshots(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestLedger(t)

	id, err := repo.Append(ctx, suspendEntry("t1"))
	require.NoError(t, err)

	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []types.Change{{Field: "status", Old: "trial", New: "suspended"}}, stored.Changes)
}

func TestAppendRejectsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestLedger(t)

	cases := map[string]func(*types.AuditEntry){
		"unknown action":      func(e *types.AuditEntry) { e.Action = "exploded" },
		"unknown entity type": func(e *types.AuditEntry) { e.EntityType = "Spaceship" },
		"missing entity id":   func(e *types.AuditEntry) { e.EntityID = "" },
		"missing action":      func(e *types.AuditEntry) { e.Action = "" },
		"missing actor":       func(e *types.AuditEntry) { e.Actor = types.Actor{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			entry := suspendEntry("t1")
			mutate(&entry)
			_, err := repo.Append(ctx, entry)
			require.ErrorIs(t, err, types.ErrValidation)
		})
	}

	page, err := repo.Query(ctx, types.AuditFilter{})
	require.NoError(t, err)
	require.Equal(t, 0, page.Total)
}

func TestUpdateAndDeleteAreRejected(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestLedger(t)

	id, err := repo.Append(ctx, suspendEntry("t1"))
	require.NoError(t, err)
	before, err := repo.Get(ctx, id)
	require.NoError(t, err)

	tampered := before
	tampered.Reason = "rewritten"
	require.ErrorIs(t, repo.Update(ctx, tampered), types.ErrImmutable)
	require.ErrorIs(t, repo.Delete(ctx, id), types.ErrImmutable)

	_, err = repo.db.NewUpdate().
		Model(&Record{ID: id, Action: string(types.ActionCancelled)}).
		Column("action").
		WherePK().
		Exec(ctx)
	require.ErrorIs(t, err, types.ErrImmutable)

	_, err = repo.db.NewDelete().
		Model(&Record{ID: id}).
		WherePK().
		Exec(ctx)
	require.ErrorIs(t, err, types.ErrImmutable)

	after, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestVerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	repo, metrics := newTestLedger(t)

	id, err := repo.Append(ctx, suspendEntry("t1"))
	require.NoError(t, err)

	// Simulate out-of-band tampering that bypasses the model.
	_, err = repo.db.ExecContext(ctx, "UPDATE audit_entries SET entity_id = ? WHERE id = ?", "t2", id.String())
	require.NoError(t, err)

	ok, err := repo.Verify(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []types.EntityType{types.EntityTenant}, metrics.mismatches)

	// The finding is never corrected.
	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "t2", stored.EntityID)
}

func TestVerifyKeepsLargeIntegerPrecision(t *testing.T) {
	ctx := context.Background()
	repo, metrics := newTestLedger(t)

	entry := suspendEntry("t1")
	entry.Changes = []types.Change{{Field: "ai_requests_used", Old: int64(9007199254740993), New: int64(0)}}
	id, err := repo.Append(ctx, entry)
	require.NoError(t, err)

	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, json.Number("9007199254740993"), stored.Changes[0].Old)

	ok, err := repo.Verify(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = repo.db.ExecContext(ctx, "UPDATE audit_entries SET changes = ? WHERE id = ?",
		`[{"field":"ai_requests_used","old":9007199254740992,"new":0}]`, id.String())
	require.NoError(t, err)

	ok, err = repo.Verify(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []types.EntityType{types.EntityTenant}, metrics.mismatches)
}

func TestVerifyIgnoresReasonAndMetadataEdits(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestLedger(t)

	id, err := repo.Append(ctx, suspendEntry("t1"))
	require.NoError(t, err)

	_, err = repo.db.ExecContext(ctx, "UPDATE audit_entries SET reason = ?, metadata = ? WHERE id = ?", "edited", `{"note":"x"}`, id.String())
	require.NoError(t, err)

	ok, err := repo.Verify(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyMissingEntry(t *testing.T) {
	repo, _ := newTestLedger(t)
	_, err := repo.Verify(context.Background(), uuid.New())
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestEntityHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestLedger(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	offsets := []time.Duration{2 * time.Hour, 0, time.Hour, time.Hour}
	for i, offset := range offsets {
		entry := suspendEntry("t1")
		entry.OccurredAt = base.Add(offset)
		entry.Metadata = map[string]any{"index": i}
		_, err := repo.Append(ctx, entry)
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, suspendEntry("other"))
	require.NoError(t, err)

	history, err := repo.EntityHistory(ctx, types.EntityTenant, "t1")
	require.NoError(t, err)
	require.Len(t, history, len(offsets))
	for i := 1; i < len(history); i++ {
		require.False(t, history[i].OccurredAt.After(history[i-1].OccurredAt),
			"entry %d is newer than entry %d", i, i-1)
	}
	for _, entry := range history {
		require.Equal(t, "t1", entry.EntityID)
	}
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestLedger(t)
	tenantA := uuid.New()

	day := func(d int) time.Time { return time.Date(2024, 3, d, 15, 30, 0, 0, time.UTC) }
	seed := []types.AuditEntry{
		{Actor: types.UserActor("1", ""), Action: types.ActionSuspended, EntityType: types.EntityTenant, EntityID: "t1", TenantID: tenantA, OccurredAt: day(1)},
		{Actor: types.UserActor("1", ""), Action: types.ActionReactivated, EntityType: types.EntityTenant, EntityID: "t1", TenantID: tenantA, OccurredAt: day(2)},
		{Actor: types.SystemActor(), Action: types.ActionPlanChanged, EntityType: types.EntitySubscription, EntityID: "s1", TenantID: tenantA, OccurredAt: day(3)},
		{Actor: types.UserActor("2", ""), Action: types.ActionCancelled, EntityType: types.EntityTenant, EntityID: "t2", OccurredAt: day(4)},
	}
	for _, entry := range seed {
		_, err := repo.Append(ctx, entry)
		require.NoError(t, err)
	}

	page, err := repo.Query(ctx, types.AuditFilter{EntityType: types.EntityTenant, EntityID: "t1"})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Equal(t, types.ActionReactivated, page.Entries[0].Action)

	page, err = repo.Query(ctx, types.AuditFilter{ActorID: "1", Action: types.ActionSuspended})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)

	page, err = repo.Query(ctx, types.AuditFilter{TenantID: tenantA})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)

	from := time.Date(2024, 3, 2, 23, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	page, err = repo.Query(ctx, types.AuditFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total, "date range covers the whole of both boundary days")

	page, err = repo.Query(ctx, types.AuditFilter{Ascending: true, Pagination: types.Pagination{Limit: 2}})
	require.NoError(t, err)
	require.Equal(t, 4, page.Total)
	require.Len(t, page.Entries, 2)
	require.True(t, page.HasMore)
	require.Equal(t, types.ActionSuspended, page.Entries[0].Action)

	_, err = repo.Query(ctx, types.AuditFilter{Action: "nope"})
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestRelatedByCorrelation(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestLedger(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	request := types.RequestContext{CorrelationID: "webhook-123"}
	ids := make([]uuid.UUID, 0, 3)
	for i, entityType := range []types.EntityType{types.EntitySubscription, types.EntityTenant, types.EntityInvoice} {
		id, err := repo.Append(ctx, types.AuditEntry{
			Actor:      types.WebhookActor("stripe"),
			Action:     types.ActionUpdated,
			EntityType: entityType,
			EntityID:   "e1",
			Request:    request,
			OccurredAt: base.Add(time.Duration(3-i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := repo.Append(ctx, suspendEntry("unrelated"))
	require.NoError(t, err)

	related, err := repo.RelatedByCorrelation(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, related, 2)
	require.Equal(t, ids[2], related[0].ID, "oldest first")
	require.Equal(t, ids[1], related[1].ID)
	for _, entry := range related {
		require.NotEqual(t, ids[0], entry.ID)
	}

	lonely, err := repo.Append(ctx, suspendEntry("t9"))
	require.NoError(t, err)
	related, err = repo.RelatedByCorrelation(ctx, lonely)
	require.NoError(t, err)
	require.Empty(t, related)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestLedger(t)

	for i := 0; i < 3; i++ {
		_, err := repo.Append(ctx, suspendEntry("t1"))
		require.NoError(t, err)
	}
	entry := suspendEntry("t1")
	entry.Action = types.ActionReactivated
	_, err := repo.Append(ctx, entry)
	require.NoError(t, err)

	stats, err := repo.Stats(ctx, types.AuditFilter{})
	require.NoError(t, err)
	require.Equal(t, 4, stats.Total)
	require.Equal(t, 3, stats.ByAction[types.ActionSuspended])
	require.Equal(t, 1, stats.ByAction[types.ActionReactivated])
}

func TestExportStreamsInBatchesAndMasks(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	repo, err := NewRepository(RepositoryConfig{DB: db, ExportSize: 2})
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entry := suspendEntry("t1")
		entry.OccurredAt = base.Add(time.Duration(i) * time.Second)
		entry.Metadata = map[string]any{"password": "hunter2", "index": i}
		_, err := repo.Append(ctx, entry)
		require.NoError(t, err)
	}

	var exported []types.AuditEntry
	err = repo.Export(ctx, types.AuditFilter{EntityType: types.EntityTenant}, func(entry types.AuditEntry) error {
		exported = append(exported, entry)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, exported, 5)
	for i := 1; i < len(exported); i++ {
		require.True(t, exported[i].OccurredAt.Before(exported[i-1].OccurredAt))
	}
	require.NotEqual(t, "hunter2", exported[0].Metadata["password"])

	ok, err := repo.Verify(ctx, exported[0].ID)
	require.NoError(t, err)
	require.True(t, ok)

	stop := errors.New("stop")
	count := 0
	err = repo.Export(ctx, types.AuditFilter{}, func(types.AuditEntry) error {
		count++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, count)
}

func TestAppendTxRollsBackWithCaller(t *testing.T) {
	ctx := context.Background()
	repo, metrics := newTestLedger(t)

	failure := errors.New("entity update failed")
	err := repo.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := repo.AppendTx(ctx, tx, suspendEntry("t1")); err != nil {
			return err
		}
		return failure
	})
	require.ErrorIs(t, err, failure)
	require.Empty(t, metrics.appends)

	page, err := repo.Query(ctx, types.AuditFilter{})
	require.NoError(t, err)
	require.Equal(t, 0, page.Total)
}
