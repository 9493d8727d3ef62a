package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Cursor marks the last entry of a keyset page.
type Cursor struct {
	OccurredAt time.Time
	ID         uuid.UUID
}

// ApplyCursorPagination orders by occurred_at/id and keeps only entries past
// the cursor in that order.
func ApplyCursorPagination(q *bun.SelectQuery, cursor *Cursor, limit int, ascending bool) *bun.SelectQuery {
	if q == nil {
		return nil
	}
	q = applyOrder(q, ascending)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if cursor == nil || cursor.OccurredAt.IsZero() {
		return q
	}
	op := "<"
	if ascending {
		op = ">"
	}
	if cursor.ID == uuid.Nil {
		return q.Where("occurred_at "+op+" ?", cursor.OccurredAt)
	}
	return q.Where("((occurred_at "+op+" ?) OR (occurred_at = ? AND id "+op+" ?))",
		cursor.OccurredAt, cursor.OccurredAt, cursor.ID)
}
