// Package outbox implements the transactional outbox: lifecycle commands
// append entries inside their transaction and a relay worker publishes
// them once committed.
package outbox

import (
	"context"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// Store defines the outbox persistence operations.
type Store interface {
	// Append adds a new entry outside any caller transaction.
	Append(ctx context.Context, entry *Entry) error
	// AppendTx adds an entry inside the caller transaction.
	AppendTx(ctx context.Context, tx bun.IDB, entry *Entry) error
	// FetchUnprocessed returns up to limit pending entries, oldest first.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)
	// MarkProcessed records a successful publish.
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	// MarkFailed records a failed publish attempt. The entry stays pending.
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
	// CountPending returns the number of unprocessed entries.
	CountPending(ctx context.Context) (int64, error)
	// DeleteProcessedBefore removes old processed entries.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// BunStore is the bun backed Store.
type BunStore struct {
	db *bun.DB
}

var _ Store = (*BunStore)(nil)

// NewBunStore constructs the store.
func NewBunStore(db *bun.DB) (*BunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("outbox: %w", types.ErrMissingDB)
	}
	return &BunStore{db: db}, nil
}

// Append implements Store.
func (s *BunStore) Append(ctx context.Context, entry *Entry) error {
	return s.AppendTx(ctx, s.db, entry)
}

// AppendTx implements Store.
func (s *BunStore) AppendTx(ctx context.Context, tx bun.IDB, entry *Entry) error {
	if entry == nil || entry.EventType == "" {
		return fmt.Errorf("%w: outbox entry requires an event type", types.ErrValidation)
	}
	if entry.ID == uuid.Nil {
		entry.ID = types.UUIDGenerator{}.UUID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Payload == nil {
		entry.Payload = map[string]any{}
	}
	_, err := tx.NewInsert().Model(entry).Exec(ctx)
	return err
}

// FetchUnprocessed implements Store. On PostgreSQL rows locked by another
// relay are skipped.
func (s *BunStore) FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []*Entry
	q := s.db.NewSelect().
		Model(&rows).
		Where("processed_at IS NULL").
		OrderExpr("created_at ASC, id ASC").
		Limit(limit)
	if q.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE SKIP LOCKED")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkProcessed implements Store.
func (s *BunStore) MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*Entry)(nil)).
		Set("processed_at = ?", processedAt.UTC()).
		Where("id = ?", id).
		Where("processed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	return repository.SQLExpectedCount(res, 1)
}

// MarkFailed implements Store.
func (s *BunStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.NewUpdate().
		Model((*Entry)(nil)).
		Set("attempts = attempts + 1").
		Set("last_error = ?", msg).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// CountPending implements Store.
func (s *BunStore) CountPending(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		Model((*Entry)(nil)).
		Where("processed_at IS NULL").
		Count(ctx)
	return int64(count), err
}

// DeleteProcessedBefore implements Store.
func (s *BunStore) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*Entry)(nil)).
		Where("processed_at IS NOT NULL").
		Where("processed_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
