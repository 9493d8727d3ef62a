package types

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Pagination supports offset pagination across admin panels.
type Pagination struct {
	Limit  int
	Offset int
}

// Clock abstracts time retrieval for deterministic testing.
type Clock interface {
	Now() time.Time
}

// IDGenerator abstracts UUID creation.
type IDGenerator interface {
	UUID() uuid.UUID
}

// Logger captures basic logging hooks used by the service.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Error(msg string, err error, fields ...any)
}

// SystemClock defers to time.Now for production usage.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Useful for sweeps that need a
// single "now" across many rows, and for tests.
type FixedClock struct {
	At time.Time
}

// Now returns the configured instant.
func (c FixedClock) Now() time.Time { return c.At }

// UUIDGenerator produces time ordered UUIDv7 identifiers, falling back to v4
// when the v7 generator fails.
type UUIDGenerator struct{}

// UUID returns a new identifier.
func (UUIDGenerator) UUID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// NopLogger discards all log lines.
type NopLogger struct{}

// Debug implements Logger.
func (NopLogger) Debug(string, ...any) {}

// Info implements Logger.
func (NopLogger) Info(string, ...any) {}

// Error implements Logger.
func (NopLogger) Error(string, error, ...any) {}

var (
	// ErrValidation marks input rejected before any mutation: unknown enum
	// values, missing required fields, malformed transition input.
	ErrValidation = errors.New("go-tenancy: validation failed")
	// ErrImmutable is returned for any update or delete attempted on a
	// ledger entry.
	ErrImmutable = errors.New("go-tenancy: audit entries are immutable")
	// ErrInvalidTransition reports a lifecycle operation not allowed from the
	// entity's current state. The entity is left unchanged.
	ErrInvalidTransition = errors.New("go-tenancy: invalid transition")
	// ErrIntegrityMismatch reports a stored checksum that no longer matches
	// the entry contents.
	ErrIntegrityMismatch = errors.New("go-tenancy: integrity mismatch")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("go-tenancy: not found")
	// ErrActorRequired indicates an actor descriptor was not supplied.
	ErrActorRequired = errors.New("go-tenancy: actor required")
	// ErrMissingLedger occurs when a command is wired without an audit ledger.
	ErrMissingLedger = errors.New("go-tenancy: missing audit ledger")
	// ErrMissingDB occurs when a component that needs transactions lacks a DB.
	ErrMissingDB = errors.New("go-tenancy: missing database")
	// ErrMissingSystemLog occurs when no system log repository was supplied.
	ErrMissingSystemLog = errors.New("go-tenancy: missing system log repository")
)
