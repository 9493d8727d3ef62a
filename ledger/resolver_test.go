package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy/pkg/types"
)

func TestEntityResolver(t *testing.T) {
	resolver := NewEntityResolver()
	require.ErrorIs(t, resolver.Register("Spaceship", func(context.Context, string) (any, error) { return nil, nil }), types.ErrValidation)
	require.ErrorIs(t, resolver.Register(types.EntityTenant, nil), types.ErrValidation)

	require.NoError(t, resolver.Register(types.EntityTenant, func(_ context.Context, id string) (any, error) {
		return "tenant:" + id, nil
	}))

	got, err := resolver.Resolve(context.Background(), types.AuditEntry{EntityType: types.EntityTenant, EntityID: "t1"})
	require.NoError(t, err)
	require.Equal(t, "tenant:t1", got)

	_, err = resolver.Resolve(context.Background(), types.AuditEntry{EntityType: types.EntityPlan, EntityID: "p1"})
	require.ErrorIs(t, err, types.ErrNotFound)
}
