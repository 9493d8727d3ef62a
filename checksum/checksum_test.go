package checksum

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy/pkg/types"
)

func sampleEntry() types.AuditEntry {
	return types.AuditEntry{
		ID:         uuid.MustParse("01890a5d-ac96-7c3f-8d2e-1b2c3d4e5f60"),
		OccurredAt: time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC),
		Actor:      types.UserActor("42", "admin@example.com"),
		Action:     types.ActionSuspended,
		EntityType: types.EntityTenant,
		EntityID:   "t1",
		Reason:     "non-payment",
		Changes: []types.Change{
			{Field: "status", Old: "trial", New: "suspended"},
		},
		Metadata: map[string]any{"source": "admin"},
	}
}

func TestFingerprintIsStableHex(t *testing.T) {
	entry := sampleEntry()

	first, err := Compute(entry)
	require.NoError(t, err)
	second, err := Compute(entry)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Len(t, first, 64)
	require.Regexp(t, "^[0-9a-f]{64}$", first)
}

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	a := sampleEntry()
	a.Changes = []types.Change{{
		Field: "health_data",
		Old:   map[string]any{"cpu": 0.5, "disk": map[string]any{"used": 10, "free": 90}},
		New:   map[string]any{"disk": map[string]any{"free": 80, "used": 20}, "cpu": 0.7},
	}}

	b := sampleEntry()
	b.Changes = []types.Change{{
		Field: "health_data",
		Old:   map[string]any{"disk": map[string]any{"free": 90, "used": 10}, "cpu": 0.5},
		New:   map[string]any{"cpu": 0.7, "disk": map[string]any{"used": 20, "free": 80}},
	}}

	sumA, err := Compute(a)
	require.NoError(t, err)
	sumB, err := Compute(b)
	require.NoError(t, err)
	require.Equal(t, sumA, sumB)
}

func TestFingerprintNormalizesNumbers(t *testing.T) {
	a := sampleEntry()
	a.Changes = []types.Change{{Field: "max_seats", Old: 5, New: int64(10)}}
	b := sampleEntry()
	b.Changes = []types.Change{{Field: "max_seats", Old: float64(5), New: 10.0}}

	sumA, err := Compute(a)
	require.NoError(t, err)
	sumB, err := Compute(b)
	require.NoError(t, err)
	require.Equal(t, sumA, sumB)
}

func TestFingerprintIgnoresNonIdentityFields(t *testing.T) {
	base := sampleEntry()
	baseSum, err := Compute(base)
	require.NoError(t, err)

	mutated := sampleEntry()
	mutated.Reason = "a different justification"
	mutated.Metadata = map[string]any{"note": "added later"}
	mutated.Request = types.RequestContext{IP: "10.0.0.1", UserAgent: "curl/8"}
	mutated.EntityLabel = "Acme Inc"
	mutated.Before = map[string]any{"status": "trial"}
	mutated.After = map[string]any{"status": "suspended"}
	mutated.Actor.Email = "other@example.com"

	sum, err := Compute(mutated)
	require.NoError(t, err)
	require.Equal(t, baseSum, sum)
}

func TestFingerprintChangesWithIdentityFields(t *testing.T) {
	base := sampleEntry()
	baseSum, err := Compute(base)
	require.NoError(t, err)

	cases := map[string]func(*types.AuditEntry){
		"id": func(e *types.AuditEntry) { e.ID = uuid.MustParse("01890a5d-ac96-7c3f-8d2e-1b2c3d4e5f61") },
		"occurred_at": func(e *types.AuditEntry) {
			e.OccurredAt = e.OccurredAt.Add(time.Microsecond)
		},
		"actor_type":  func(e *types.AuditEntry) { e.Actor.Kind = types.ActorAPI },
		"actor_id":    func(e *types.AuditEntry) { e.Actor.ID = "43" },
		"action":      func(e *types.AuditEntry) { e.Action = types.ActionCancelled },
		"entity_type": func(e *types.AuditEntry) { e.EntityType = types.EntitySubscription },
		"entity_id":   func(e *types.AuditEntry) { e.EntityID = "t2" },
		"changes": func(e *types.AuditEntry) {
			e.Changes = []types.Change{{Field: "status", Old: "trial", New: "cancelled"}}
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			entry := sampleEntry()
			mutate(&entry)
			sum, err := Compute(entry)
			require.NoError(t, err)
			require.NotEqual(t, baseSum, sum)
		})
	}
}

func TestFingerprintUsesNormalizedTime(t *testing.T) {
	base := sampleEntry()
	base.OccurredAt = time.Date(2024, 3, 1, 12, 30, 0, 123456000, time.UTC)
	baseSum, err := Compute(base)
	require.NoError(t, err)

	t.Run("same microsecond in another zone", func(t *testing.T) {
		local := base
		local.OccurredAt = base.OccurredAt.In(time.FixedZone("CEST", 2*60*60)).Add(100 * time.Nanosecond)
		sum, err := Compute(local)
		require.NoError(t, err)
		require.Equal(t, baseSum, sum)
	})

	t.Run("next microsecond", func(t *testing.T) {
		later := base
		later.OccurredAt = base.OccurredAt.Add(1000 * time.Nanosecond)
		sum, err := Compute(later)
		require.NoError(t, err)
		require.NotEqual(t, baseSum, sum)
	})
}

func TestFingerprintKeepsLargeIntegersExact(t *testing.T) {
	a := sampleEntry()
	a.Changes = []types.Change{{Field: "ai_requests_used", Old: int64(9007199254740993), New: int64(0)}}
	b := sampleEntry()
	b.Changes = []types.Change{{Field: "ai_requests_used", Old: int64(9007199254740992), New: int64(0)}}

	sumA, err := Compute(a)
	require.NoError(t, err)
	sumB, err := Compute(b)
	require.NoError(t, err)
	require.NotEqual(t, sumA, sumB)

	a.Checksum = sumA
	a.Changes[0].Old = json.Number("9007199254740993")
	ok, err := Verify(a)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCanonicalNumber(t *testing.T) {
	cases := map[string]string{
		"5":                     "5",
		"5.0":                   "5",
		"5e0":                   "5",
		"1e6":                   "1000000",
		"-12":                   "-12",
		"0.5":                   "0.5",
		"0.1":                   "0.1",
		"0.10":                  "0.1",
		"9007199254740993":      "9007199254740993",
		"18446744073709551617":  "18446744073709551617",
		"0.1000000000000000001": "0.1000000000000000001",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			require.Equal(t, want, canonicalNumber(json.Number(in)))
		})
	}
}

func TestVerify(t *testing.T) {
	entry := sampleEntry()

	ok, err := Verify(entry)
	require.NoError(t, err)
	require.True(t, ok, "entries without a checksum are vacuously valid")

	entry.Checksum, err = Compute(entry)
	require.NoError(t, err)
	ok, err = Verify(entry)
	require.NoError(t, err)
	require.True(t, ok)

	entry.Changes[0].New = "active"
	ok, err = Verify(entry)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCanonicalSortsKeys(t *testing.T) {
	payload, err := Canonical(Fields{
		ID:         "id-1",
		OccurredAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		ActorType:  "system",
		Action:     "created",
		EntityType: "Plan",
		EntityID:   "p1",
	})
	require.NoError(t, err)
	require.Equal(t,
		`{"action":"created","actor_id":"","actor_type":"system","changes":[],"entity_id":"p1","entity_type":"Plan","id":"id-1","occurred_at":"2024-01-02T03:04:05.000000Z"}`,
		string(payload),
	)
}
