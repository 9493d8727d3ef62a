package command

import (
	"context"

	featuregate "github.com/goliatone/go-featuregate/gate"
	"github.com/google/uuid"
)

const (
	featureTenantsTrialExtension = "tenants.trial_extension"
)

func featureEnabled(ctx context.Context, gate featuregate.FeatureGate, key string, tenantID uuid.UUID) (bool, error) {
	if gate == nil {
		return true, nil
	}
	if tenantID == uuid.Nil {
		return gate.Enabled(ctx, key)
	}
	id := tenantID.String()
	return gate.Enabled(ctx, key, featuregate.WithScopeChain(featuregate.ScopeChain{
		{Kind: featuregate.ScopeTenant, ID: id, TenantID: id},
		{Kind: featuregate.ScopeSystem},
	}))
}
