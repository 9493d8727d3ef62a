package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy/pkg/types"
)

func TestMetricsCountLedgerAndLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveAppend(types.ActionSuspended, types.EntityTenant)
	m.ObserveAppend(types.ActionSuspended, types.EntityTenant)
	m.IncIntegrityMismatch(types.EntityTenant)
	m.ObserveTransition(types.EntityTenant, "active", "suspended")
	m.IncRejected(types.EntitySubscription, "schedule_change")

	require.Equal(t, 2.0, testutil.ToFloat64(m.AuditAppends.WithLabelValues("suspended", "Tenant")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.IntegrityMismatches.WithLabelValues("Tenant")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("Tenant", "active", "suspended")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RejectedTransitions.WithLabelValues("Subscription", "schedule_change")))
}

func TestMetricsOutbox(t *testing.T) {
	m := New(nil)
	m.SetPendingDepth(7)
	m.IncPublished()
	m.IncPublishFailures()
	m.ObserveBatchSize(3)

	require.Equal(t, 7.0, testutil.ToFloat64(m.PendingDepth))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PublishedTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures))
}

func TestNewTwiceOnSeparateRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
