package ledger

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// Record models the persisted row in audit_entries.
type Record struct {
	bun.BaseModel `bun:"table:audit_entries"`

	ID            uuid.UUID      `bun:",pk,type:uuid"`
	OccurredAt    time.Time      `bun:"occurred_at"`
	ActorType     string         `bun:"actor_type"`
	ActorID       string         `bun:"actor_id"`
	ActorEmail    string         `bun:"actor_email"`
	Action        string         `bun:"action"`
	EntityType    string         `bun:"entity_type"`
	EntityID      string         `bun:"entity_id"`
	EntityLabel   string         `bun:"entity_label"`
	TenantID      uuid.UUID      `bun:"tenant_id,type:uuid,nullzero"`
	IPAddress     string         `bun:"ip_address"`
	UserAgent     string         `bun:"user_agent"`
	RequestID     string         `bun:"request_id"`
	CorrelationID string         `bun:"correlation_id"`
	Reason        *string        `bun:"reason"`
	BeforeState   map[string]any `bun:"before_state,type:jsonb,nullzero"`
	AfterState    map[string]any `bun:"after_state,type:jsonb,nullzero"`
	Changes       changeSet      `bun:"changes,type:jsonb"`
	Checksum      string         `bun:"checksum"`
	Metadata      map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt     time.Time      `bun:"created_at"`
}

var (
	_ bun.BeforeUpdateHook = (*Record)(nil)
	_ bun.BeforeDeleteHook = (*Record)(nil)
)

// BeforeUpdate rejects every update built against the audit table model.
func (*Record) BeforeUpdate(context.Context, *bun.UpdateQuery) error {
	return types.ErrImmutable
}

// BeforeDelete rejects every delete built against the audit table model.
func (*Record) BeforeDelete(context.Context, *bun.DeleteQuery) error {
	return types.ErrImmutable
}

// changeSet stores the fingerprinted change list. Numbers are decoded as
// json.Number so values beyond float64 precision read back exactly.
type changeSet []types.Change

var (
	_ driver.Valuer = changeSet(nil)
	_ sql.Scanner   = (*changeSet)(nil)
)

// Value encodes the changes as a JSON array.
func (c changeSet) Value() (driver.Value, error) {
	if c == nil {
		c = changeSet{}
	}
	raw, err := json.Marshal([]types.Change(c))
	if err != nil {
		return nil, fmt.Errorf("ledger: encode changes: %w", err)
	}
	return string(raw), nil
}

// Scan decodes a stored JSON array.
func (c *changeSet) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*c = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("ledger: unsupported changes column %T", src)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out []types.Change
	if err := dec.Decode(&out); err != nil {
		return fmt.Errorf("ledger: decode changes: %w", err)
	}
	*c = out
	return nil
}

func toRecord(entry types.AuditEntry) *Record {
	rec := &Record{
		ID:            entry.ID,
		OccurredAt:    entry.OccurredAt,
		ActorType:     string(entry.Actor.Kind),
		ActorID:       entry.Actor.ID,
		ActorEmail:    entry.Actor.Email,
		Action:        string(entry.Action),
		EntityType:    string(entry.EntityType),
		EntityID:      entry.EntityID,
		EntityLabel:   entry.EntityLabel,
		TenantID:      entry.TenantID,
		IPAddress:     entry.Request.IP,
		UserAgent:     entry.Request.UserAgent,
		RequestID:     entry.Request.RequestID,
		CorrelationID: entry.Request.CorrelationID,
		BeforeState:   cloneMap(entry.Before),
		AfterState:    cloneMap(entry.After),
		Changes:       changeSet(cloneChanges(entry.Changes)),
		Checksum:      entry.Checksum,
		Metadata:      cloneMap(entry.Metadata),
		CreatedAt:     entry.CreatedAt,
	}
	if entry.Reason != "" {
		reason := entry.Reason
		rec.Reason = &reason
	}
	if rec.Changes == nil {
		rec.Changes = changeSet{}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	return rec
}

func toEntry(rec *Record) types.AuditEntry {
	if rec == nil {
		return types.AuditEntry{}
	}
	entry := types.AuditEntry{
		ID:          rec.ID,
		OccurredAt:  rec.OccurredAt.UTC(),
		Actor:       types.Actor{Kind: types.ActorKind(rec.ActorType), ID: rec.ActorID, Email: rec.ActorEmail},
		Action:      types.Action(rec.Action),
		EntityType:  types.EntityType(rec.EntityType),
		EntityID:    rec.EntityID,
		EntityLabel: rec.EntityLabel,
		TenantID:    rec.TenantID,
		Request: types.RequestContext{
			IP:            rec.IPAddress,
			UserAgent:     rec.UserAgent,
			RequestID:     rec.RequestID,
			CorrelationID: rec.CorrelationID,
		},
		Before:    cloneMap(rec.BeforeState),
		After:     cloneMap(rec.AfterState),
		Changes:   cloneChanges([]types.Change(rec.Changes)),
		Checksum:  rec.Checksum,
		Metadata:  cloneMap(rec.Metadata),
		CreatedAt: rec.CreatedAt.UTC(),
	}
	if rec.Reason != nil {
		entry.Reason = *rec.Reason
	}
	return entry
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func cloneChanges(src []types.Change) []types.Change {
	if src == nil {
		return nil
	}
	out := make([]types.Change, len(src))
	copy(out, src)
	return out
}
