package query

import (
	"context"
	"fmt"
	"strings"

	gocommand "github.com/goliatone/go-command"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// SystemLogFeedQuery renders the operational log feed. RecentHours and
// CriticalOrError on the filter cover the dashboard shortcuts.
type SystemLogFeedQuery struct {
	reader types.SystemLogReader
}

// NewSystemLogFeedQuery constructs the feed query.
func NewSystemLogFeedQuery(reader types.SystemLogReader) *SystemLogFeedQuery {
	return &SystemLogFeedQuery{reader: reader}
}

var _ gocommand.Querier[types.SystemLogFilter, types.SystemLogPage] = (*SystemLogFeedQuery)(nil)

// Query validates the filter and fetches a page.
func (q *SystemLogFeedQuery) Query(ctx context.Context, filter types.SystemLogFilter) (types.SystemLogPage, error) {
	if q.reader == nil {
		return types.SystemLogPage{}, types.ErrMissingSystemLog
	}
	if err := filter.Validate(); err != nil {
		return types.SystemLogPage{}, err
	}
	filter.Pagination = normalizePagination(filter.Pagination)
	return q.reader.Query(ctx, filter)
}

// TargetHistoryInput selects the operational trail of one target.
type TargetHistoryInput struct {
	TargetType string
	TargetID   string
}

// Type implements gocommand.Message.
func (TargetHistoryInput) Type() string {
	return "query.system_log.target_history"
}

// Validate implements gocommand.Message.
func (input TargetHistoryInput) Validate() error {
	if strings.TrimSpace(input.TargetType) == "" || strings.TrimSpace(input.TargetID) == "" {
		return fmt.Errorf("%w: target type and id required", types.ErrValidation)
	}
	return nil
}

// SystemLogHistoryQuery returns every operational entry about a target.
type SystemLogHistoryQuery struct {
	reader types.SystemLogReader
}

// NewSystemLogHistoryQuery constructs the history query.
func NewSystemLogHistoryQuery(reader types.SystemLogReader) *SystemLogHistoryQuery {
	return &SystemLogHistoryQuery{reader: reader}
}

var _ gocommand.Querier[TargetHistoryInput, []types.SystemLogEntry] = (*SystemLogHistoryQuery)(nil)

// Query returns the trail, newest first.
func (q *SystemLogHistoryQuery) Query(ctx context.Context, input TargetHistoryInput) ([]types.SystemLogEntry, error) {
	if q.reader == nil {
		return nil, types.ErrMissingSystemLog
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	return q.reader.EntityHistory(ctx, strings.TrimSpace(input.TargetType), strings.TrimSpace(input.TargetID))
}

// RelatedSystemLogQuery follows the correlation id of one entry.
type RelatedSystemLogQuery struct {
	reader types.SystemLogReader
}

// NewRelatedSystemLogQuery constructs the correlation query.
func NewRelatedSystemLogQuery(reader types.SystemLogReader) *RelatedSystemLogQuery {
	return &RelatedSystemLogQuery{reader: reader}
}

var _ gocommand.Querier[EntryInput, []types.SystemLogEntry] = (*RelatedSystemLogQuery)(nil)

// Query returns the related entries, oldest first.
func (q *RelatedSystemLogQuery) Query(ctx context.Context, input EntryInput) ([]types.SystemLogEntry, error) {
	if q.reader == nil {
		return nil, types.ErrMissingSystemLog
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	return q.reader.RelatedByCorrelation(ctx, input.ID)
}
