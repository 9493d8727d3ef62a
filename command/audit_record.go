package command

import (
	"context"
	"fmt"
	"strings"

	gocommand "github.com/goliatone/go-command"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/ledger"
	"github.com/goliatone/go-tenancy/outbox"
	"github.com/goliatone/go-tenancy/pkg/types"
)

// AuditRecordInput appends an entry produced outside the lifecycle state
// machines: invoices, payments, role grants, API tokens.
type AuditRecordInput struct {
	Entry  types.AuditEntry
	Result *types.AuditEntry
}

// Type implements gocommand.Message.
func (AuditRecordInput) Type() string {
	return "command.audit.record"
}

// Validate implements gocommand.Message.
func (input AuditRecordInput) Validate() error {
	return input.Entry.Validate()
}

// AuditRecordConfig wires the record command.
type AuditRecordConfig struct {
	DB     *bun.DB
	Ledger *ledger.Repository
	Outbox outbox.Store
	Clock  types.Clock
}

// AuditRecordCommand appends one ledger entry and its outbox row together.
type AuditRecordCommand struct {
	db     *bun.DB
	ledger *ledger.Repository
	outbox outbox.Store
	clock  types.Clock
}

// NewAuditRecordCommand constructs the handler.
func NewAuditRecordCommand(cfg AuditRecordConfig) *AuditRecordCommand {
	return &AuditRecordCommand{
		db:     cfg.DB,
		ledger: cfg.Ledger,
		outbox: cfg.Outbox,
		clock:  safeClock(cfg.Clock),
	}
}

var _ gocommand.Commander[AuditRecordInput] = (*AuditRecordCommand)(nil)

// Execute validates and persists the entry.
func (c *AuditRecordCommand) Execute(ctx context.Context, input AuditRecordInput) error {
	if c.ledger == nil {
		return types.ErrMissingLedger
	}
	if err := input.Validate(); err != nil {
		return err
	}
	entry := input.Entry
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = now(c.clock)
	}

	if c.outbox == nil || c.db == nil {
		id, err := c.ledger.Append(ctx, entry)
		if err != nil {
			return err
		}
		if input.Result != nil {
			saved, err := c.ledger.Get(ctx, id)
			if err != nil {
				return err
			}
			*input.Result = saved
		}
		return nil
	}

	var saved types.AuditEntry
	err := c.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		saved, err = c.ledger.AppendTx(ctx, tx, entry)
		if err != nil {
			return err
		}
		if err := c.outbox.AppendTx(ctx, tx, outbox.FromAudit(saved)); err != nil {
			return fmt.Errorf("outbox: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.ledger.Committed(ctx, saved)
	if input.Result != nil {
		*input.Result = saved
	}
	return nil
}

// SystemLogInput wraps an operational record.
type SystemLogInput struct {
	Entry  types.SystemLogEntry
	Result *uuid.UUID
}

// Type implements gocommand.Message.
func (SystemLogInput) Type() string {
	return "command.system_log.log"
}

// Validate implements gocommand.Message.
func (input SystemLogInput) Validate() error {
	if strings.TrimSpace(input.Entry.EventType) == "" {
		return fmt.Errorf("%w: event type required", types.ErrValidation)
	}
	return input.Entry.Validate()
}

// SystemLogConfig wires the log command.
type SystemLogConfig struct {
	Sink  types.SystemLogSink
	Clock types.Clock
}

// SystemLogCommand writes operational records.
type SystemLogCommand struct {
	sink  types.SystemLogSink
	clock types.Clock
}

// NewSystemLogCommand constructs the handler.
func NewSystemLogCommand(cfg SystemLogConfig) *SystemLogCommand {
	return &SystemLogCommand{
		sink:  cfg.Sink,
		clock: safeClock(cfg.Clock),
	}
}

var _ gocommand.Commander[SystemLogInput] = (*SystemLogCommand)(nil)

// Execute validates and persists the record.
func (c *SystemLogCommand) Execute(ctx context.Context, input SystemLogInput) error {
	if c.sink == nil {
		return types.ErrMissingSystemLog
	}
	if err := input.Validate(); err != nil {
		return err
	}
	entry := input.Entry
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = now(c.clock)
	}
	id, err := c.sink.Log(ctx, entry)
	if err != nil {
		return err
	}
	if input.Result != nil {
		*input.Result = id
	}
	return nil
}
