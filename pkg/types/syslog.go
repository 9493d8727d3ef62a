package types

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity grades operational log entries.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is known.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// LogStatus records the outcome of the logged operation.
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
)

// Valid reports whether the status is known.
func (s LogStatus) Valid() bool {
	return s == LogStatusSuccess || s == LogStatusFailed
}

// SystemLogEntry is a high volume operational record: auth events,
// provisioning progress, webhook processing, AI guardrail hits.
type SystemLogEntry struct {
	ID            uuid.UUID
	EventType     string
	Category      string
	Severity      Severity
	Status        LogStatus
	Actor         Actor
	TargetType    string
	TargetID      string
	TenantID      uuid.UUID
	Request       RequestContext
	Message       string
	Context       map[string]any
	OccurredAt    time.Time
	RedactedAt    *time.Time
	CorrelationID string
}

// EventCategory returns the first dot segment of a dotted event type.
func EventCategory(eventType string) string {
	eventType = strings.TrimSpace(eventType)
	if idx := strings.Index(eventType, "."); idx >= 0 {
		return eventType[:idx]
	}
	return eventType
}

// Validate checks the minimal fields of an operational log entry.
func (e SystemLogEntry) Validate() error {
	eventType := strings.TrimSpace(e.EventType)
	switch {
	case eventType == "":
		return fmt.Errorf("%w: event type required", ErrValidation)
	case strings.HasPrefix(eventType, ".") || strings.HasSuffix(eventType, "."):
		return fmt.Errorf("%w: malformed event type %q", ErrValidation, eventType)
	case e.Severity != "" && !e.Severity.Valid():
		return fmt.Errorf("%w: unknown severity %q", ErrValidation, e.Severity)
	case e.Status != "" && !e.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrValidation, e.Status)
	}
	if e.Actor.Kind != "" && !e.Actor.Kind.Valid() {
		return fmt.Errorf("%w: unknown actor type %q", ErrValidation, e.Actor.Kind)
	}
	return nil
}

// SystemLogFilter narrows operational log queries. Category accepts either
// "billing" or "billing.*".
type SystemLogFilter struct {
	EventType       string
	Category        string
	Severities      []Severity
	Status          LogStatus
	ActorID         string
	TargetType      string
	TargetID        string
	TenantID        uuid.UUID
	CorrelationID   string
	Since           *time.Time
	Until           *time.Time
	RecentHours     int
	CriticalOrError bool
	Pagination      Pagination
}

// Type implements gocommand.Message for query inputs.
func (SystemLogFilter) Type() string {
	return "query.system_log.feed"
}

// Validate implements gocommand.Message.
func (f SystemLogFilter) Validate() error {
	for _, severity := range f.Severities {
		if !severity.Valid() {
			return fmt.Errorf("%w: unknown severity %q", ErrValidation, severity)
		}
	}
	if f.Status != "" && !f.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.RecentHours < 0 {
		return fmt.Errorf("%w: recent hours must be positive", ErrValidation)
	}
	return nil
}

// SystemLogPage is a paginated operational log response.
type SystemLogPage struct {
	Entries    []SystemLogEntry
	Total      int
	NextOffset int
	HasMore    bool
}

// SystemLogSink is the minimal write contract for operational logs.
type SystemLogSink interface {
	Log(ctx context.Context, entry SystemLogEntry) (uuid.UUID, error)
}

// SystemLogReader exposes the operational log read side.
type SystemLogReader interface {
	Get(ctx context.Context, id uuid.UUID) (SystemLogEntry, error)
	Query(ctx context.Context, filter SystemLogFilter) (SystemLogPage, error)
	EntityHistory(ctx context.Context, targetType, targetID string) ([]SystemLogEntry, error)
	RelatedByCorrelation(ctx context.Context, id uuid.UUID) ([]SystemLogEntry, error)
}
