package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// EntityFetcher loads the current state of a ledger subject.
type EntityFetcher func(ctx context.Context, entityID string) (any, error)

// EntityResolver maps entity types to fetchers so the read side can show the
// live entity next to its history.
type EntityResolver struct {
	mu       sync.RWMutex
	fetchers map[types.EntityType]EntityFetcher
}

// NewEntityResolver builds an empty resolver.
func NewEntityResolver() *EntityResolver {
	return &EntityResolver{fetchers: make(map[types.EntityType]EntityFetcher)}
}

// Register binds a fetcher to an entity type, replacing any previous one.
func (r *EntityResolver) Register(entityType types.EntityType, fetch EntityFetcher) error {
	if !entityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", types.ErrValidation, entityType)
	}
	if fetch == nil {
		return fmt.Errorf("%w: fetcher required for %s", types.ErrValidation, entityType)
	}
	r.mu.Lock()
	r.fetchers[entityType] = fetch
	r.mu.Unlock()
	return nil
}

// Resolve loads the entity an audit entry documents.
func (r *EntityResolver) Resolve(ctx context.Context, entry types.AuditEntry) (any, error) {
	r.mu.RLock()
	fetch, ok := r.fetchers[entry.EntityType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ledger: no resolver for %s: %w", entry.EntityType, types.ErrNotFound)
	}
	return fetch(ctx, entry.EntityID)
}
