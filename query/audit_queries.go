package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gocommand "github.com/goliatone/go-command"
	"github.com/google/uuid"

	"github.com/goliatone/go-tenancy/ledger"
	"github.com/goliatone/go-tenancy/pkg/types"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 200
)

// AuditFeedQuery renders paginated ledger feeds.
type AuditFeedQuery struct {
	reader types.AuditReader
}

// NewAuditFeedQuery constructs the feed query.
func NewAuditFeedQuery(reader types.AuditReader) *AuditFeedQuery {
	return &AuditFeedQuery{reader: reader}
}

var _ gocommand.Querier[types.AuditFilter, types.AuditPage] = (*AuditFeedQuery)(nil)

// Query validates the filter and fetches a page.
func (q *AuditFeedQuery) Query(ctx context.Context, filter types.AuditFilter) (types.AuditPage, error) {
	if q.reader == nil {
		return types.AuditPage{}, types.ErrMissingLedger
	}
	if err := filter.Validate(); err != nil {
		return types.AuditPage{}, err
	}
	filter.Pagination = normalizePagination(filter.Pagination)
	return q.reader.Query(ctx, filter)
}

// AuditStatsQuery counts ledger entries per action.
type AuditStatsQuery struct {
	reader types.AuditReader
}

// NewAuditStatsQuery constructs the stats query.
func NewAuditStatsQuery(reader types.AuditReader) *AuditStatsQuery {
	return &AuditStatsQuery{reader: reader}
}

var _ gocommand.Querier[types.AuditFilter, types.AuditStats] = (*AuditStatsQuery)(nil)

// Query returns aggregate counts.
func (q *AuditStatsQuery) Query(ctx context.Context, filter types.AuditFilter) (types.AuditStats, error) {
	if q.reader == nil {
		return types.AuditStats{}, types.ErrMissingLedger
	}
	if err := filter.Validate(); err != nil {
		return types.AuditStats{}, err
	}
	return q.reader.Stats(ctx, filter)
}

// EntityHistoryInput selects the ledger trail of one entity.
type EntityHistoryInput struct {
	EntityType types.EntityType
	EntityID   string
}

// Type implements gocommand.Message.
func (EntityHistoryInput) Type() string {
	return "query.audit.entity_history"
}

// Validate implements gocommand.Message.
func (input EntityHistoryInput) Validate() error {
	if !input.EntityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", types.ErrValidation, input.EntityType)
	}
	if strings.TrimSpace(input.EntityID) == "" {
		return fmt.Errorf("%w: entity id required", types.ErrValidation)
	}
	return nil
}

// EntityHistoryQuery returns every entry for an entity, newest first.
type EntityHistoryQuery struct {
	reader types.AuditReader
}

// NewEntityHistoryQuery constructs the history query.
func NewEntityHistoryQuery(reader types.AuditReader) *EntityHistoryQuery {
	return &EntityHistoryQuery{reader: reader}
}

var _ gocommand.Querier[EntityHistoryInput, []types.AuditEntry] = (*EntityHistoryQuery)(nil)

// Query returns the trail.
func (q *EntityHistoryQuery) Query(ctx context.Context, input EntityHistoryInput) ([]types.AuditEntry, error) {
	if q.reader == nil {
		return nil, types.ErrMissingLedger
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	return q.reader.EntityHistory(ctx, input.EntityType, strings.TrimSpace(input.EntityID))
}

// EntryInput addresses a single ledger or operational log entry.
type EntryInput struct {
	ID uuid.UUID
}

// Type implements gocommand.Message.
func (EntryInput) Type() string {
	return "query.entry"
}

// Validate implements gocommand.Message.
func (input EntryInput) Validate() error {
	if input.ID == uuid.Nil {
		return fmt.Errorf("%w: entry id required", types.ErrValidation)
	}
	return nil
}

// RelatedAuditQuery returns the entries sharing a correlation id with the
// addressed entry, excluding the entry itself.
type RelatedAuditQuery struct {
	reader types.AuditReader
}

// NewRelatedAuditQuery constructs the correlation query.
func NewRelatedAuditQuery(reader types.AuditReader) *RelatedAuditQuery {
	return &RelatedAuditQuery{reader: reader}
}

var _ gocommand.Querier[EntryInput, []types.AuditEntry] = (*RelatedAuditQuery)(nil)

// Query returns the related entries, oldest first.
func (q *RelatedAuditQuery) Query(ctx context.Context, input EntryInput) ([]types.AuditEntry, error) {
	if q.reader == nil {
		return nil, types.ErrMissingLedger
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	return q.reader.RelatedByCorrelation(ctx, input.ID)
}

// VerifyResult reports the integrity check of one entry.
type VerifyResult struct {
	ID    uuid.UUID `json:"id"`
	Valid bool      `json:"valid"`
}

// VerifyAuditQuery recomputes the checksum of a stored entry.
type VerifyAuditQuery struct {
	reader types.AuditReader
}

// NewVerifyAuditQuery constructs the verification query.
func NewVerifyAuditQuery(reader types.AuditReader) *VerifyAuditQuery {
	return &VerifyAuditQuery{reader: reader}
}

var _ gocommand.Querier[EntryInput, VerifyResult] = (*VerifyAuditQuery)(nil)

// Query reports whether the entry is intact. A mismatch is a result, not an
// error.
func (q *VerifyAuditQuery) Query(ctx context.Context, input EntryInput) (VerifyResult, error) {
	if q.reader == nil {
		return VerifyResult{}, types.ErrMissingLedger
	}
	if err := input.Validate(); err != nil {
		return VerifyResult{}, err
	}
	ok, err := q.reader.Verify(ctx, input.ID)
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{ID: input.ID, Valid: ok}, nil
}

// ResolvedEntry pairs a ledger entry with the current state of the entity it
// documents.
type ResolvedEntry struct {
	Entry  types.AuditEntry `json:"entry"`
	Entity any              `json:"entity,omitempty"`
}

// AuditEntityQuery loads an entry and resolves its entity through the
// registered fetchers.
type AuditEntityQuery struct {
	reader   types.AuditReader
	resolver *ledger.EntityResolver
}

// NewAuditEntityQuery constructs the resolving query.
func NewAuditEntityQuery(reader types.AuditReader, resolver *ledger.EntityResolver) *AuditEntityQuery {
	return &AuditEntityQuery{reader: reader, resolver: resolver}
}

var _ gocommand.Querier[EntryInput, ResolvedEntry] = (*AuditEntityQuery)(nil)

// Query returns the entry and its entity. Entities that no longer exist, or
// have no registered fetcher, resolve to nil.
func (q *AuditEntityQuery) Query(ctx context.Context, input EntryInput) (ResolvedEntry, error) {
	if q.reader == nil {
		return ResolvedEntry{}, types.ErrMissingLedger
	}
	if err := input.Validate(); err != nil {
		return ResolvedEntry{}, err
	}
	entry, err := q.reader.Get(ctx, input.ID)
	if err != nil {
		return ResolvedEntry{}, err
	}
	out := ResolvedEntry{Entry: entry}
	if q.resolver == nil {
		return out, nil
	}
	entity, err := q.resolver.Resolve(ctx, entry)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return out, nil
		}
		return ResolvedEntry{}, err
	}
	out.Entity = entity
	return out, nil
}

func normalizePagination(p types.Pagination) types.Pagination {
	if p.Limit <= 0 {
		p.Limit = defaultFeedLimit
	}
	if p.Limit > maxFeedLimit {
		p.Limit = maxFeedLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
