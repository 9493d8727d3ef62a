package types

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is the closed set of ledger verbs.
type Action string

const (
	ActionCreated        Action = "created"
	ActionUpdated        Action = "updated"
	ActionDeleted        Action = "deleted"
	ActionStatusChanged  Action = "status_changed"
	ActionAssigned       Action = "assigned"
	ActionRevoked        Action = "revoked"
	ActionSuspended      Action = "suspended"
	ActionReactivated    Action = "reactivated"
	ActionCancelled      Action = "cancelled"
	ActionPlanChanged    Action = "plan_changed"
	ActionTrialExtended  Action = "trial_extended"
	ActionProvisioned    Action = "provisioned"
	ActionDomainAdded    Action = "domain_added"
	ActionDomainRemoved  Action = "domain_removed"
	ActionRoleAssigned   Action = "role_assigned"
	ActionRoleRemoved    Action = "role_removed"
	ActionMFAEnabled     Action = "mfa_enabled"
	ActionMFADisabled    Action = "mfa_disabled"
	ActionSessionRevoked Action = "session_revoked"
	ActionKeyRotated     Action = "key_rotated"
	ActionRefunded       Action = "refunded"
)

var knownActions = map[Action]struct{}{
	ActionCreated: {}, ActionUpdated: {}, ActionDeleted: {}, ActionStatusChanged: {},
	ActionAssigned: {}, ActionRevoked: {}, ActionSuspended: {}, ActionReactivated: {},
	ActionCancelled: {}, ActionPlanChanged: {}, ActionTrialExtended: {}, ActionProvisioned: {},
	ActionDomainAdded: {}, ActionDomainRemoved: {}, ActionRoleAssigned: {}, ActionRoleRemoved: {},
	ActionMFAEnabled: {}, ActionMFADisabled: {}, ActionSessionRevoked: {}, ActionKeyRotated: {},
	ActionRefunded: {},
}

// Valid reports whether the action is a known ledger verb.
func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// EntityType is the closed set of entities the ledger documents.
type EntityType string

const (
	EntityTenant           EntityType = "Tenant"
	EntitySubscription     EntityType = "Subscription"
	EntityUser             EntityType = "User"
	EntityPlan             EntityType = "Plan"
	EntityRole             EntityType = "Role"
	EntityInvoice          EntityType = "Invoice"
	EntityPayment          EntityType = "Payment"
	EntityPaymentMethod    EntityType = "PaymentMethod"
	EntityBillingCustomer  EntityType = "BillingCustomer"
	EntityWebhookEndpoint  EntityType = "WebhookEndpoint"
	EntityAPIToken         EntityType = "ApiToken"
	EntityPlatformSettings EntityType = "PlatformSettings"
)

var knownEntityTypes = map[EntityType]struct{}{
	EntityTenant: {}, EntitySubscription: {}, EntityUser: {}, EntityPlan: {},
	EntityRole: {}, EntityInvoice: {}, EntityPayment: {}, EntityPaymentMethod: {},
	EntityBillingCustomer: {}, EntityWebhookEndpoint: {}, EntityAPIToken: {},
	EntityPlatformSettings: {},
}

// Valid reports whether the entity type is known.
func (e EntityType) Valid() bool {
	_, ok := knownEntityTypes[e]
	return ok
}

// Change is one field level difference between two snapshots.
type Change struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// Diff returns the changes between two snapshots ordered by field name.
// Keys present on only one side are reported with a nil counterpart.
func Diff(before, after map[string]any) []Change {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	fields := make([]string, 0, len(keys))
	for k := range keys {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	changes := make([]Change, 0, len(fields))
	for _, field := range fields {
		oldValue := before[field]
		newValue := after[field]
		if reflect.DeepEqual(oldValue, newValue) {
			continue
		}
		changes = append(changes, Change{Field: field, Old: oldValue, New: newValue})
	}
	return changes
}

// AuditEntry is one immutable fact about a change.
type AuditEntry struct {
	ID          uuid.UUID
	OccurredAt  time.Time
	Actor       Actor
	Action      Action
	EntityType  EntityType
	EntityID    string
	EntityLabel string
	TenantID    uuid.UUID
	Request     RequestContext
	Reason      string
	Before      map[string]any
	After       map[string]any
	Changes     []Change
	Checksum    string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// Validate checks the identity fields the ledger requires.
func (e AuditEntry) Validate() error {
	switch {
	case e.EntityType == "":
		return fmt.Errorf("%w: entity type required", ErrValidation)
	case !e.EntityType.Valid():
		return fmt.Errorf("%w: unknown entity type %q", ErrValidation, e.EntityType)
	case strings.TrimSpace(e.EntityID) == "":
		return fmt.Errorf("%w: entity id required", ErrValidation)
	case e.Action == "":
		return fmt.Errorf("%w: action required", ErrValidation)
	case !e.Action.Valid():
		return fmt.Errorf("%w: unknown action %q", ErrValidation, e.Action)
	}
	if err := e.Actor.Validate(); err != nil {
		if errors.Is(err, ErrActorRequired) {
			return fmt.Errorf("%w: actor type required", ErrValidation)
		}
		return err
	}
	return nil
}

// AuditFilter narrows ledger queries. All filters are optional and combined
// with AND. From/To are inclusive calendar days in UTC.
type AuditFilter struct {
	EntityType    EntityType
	EntityID      string
	Action        Action
	ActorID       string
	TenantID      uuid.UUID
	CorrelationID string
	From          *time.Time
	To            *time.Time
	Ascending     bool
	Pagination    Pagination
}

// Type implements gocommand.Message for query inputs.
func (AuditFilter) Type() string {
	return "query.audit.feed"
}

// Validate implements gocommand.Message.
func (f AuditFilter) Validate() error {
	if f.EntityType != "" && !f.EntityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrValidation, f.EntityType)
	}
	if f.Action != "" && !f.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrValidation, f.Action)
	}
	if f.EntityID != "" && f.EntityType == "" {
		return fmt.Errorf("%w: entity id filter requires entity type", ErrValidation)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return fmt.Errorf("%w: date range end before start", ErrValidation)
	}
	return nil
}

// AuditPage represents a paginated ledger response.
type AuditPage struct {
	Entries    []AuditEntry
	Total      int
	NextOffset int
	HasMore    bool
}

// AuditStats counts ledger entries per action.
type AuditStats struct {
	Total    int
	ByAction map[Action]int
}

// AuditLedger is the write contract exposed to producers. It deliberately has
// no update or delete.
type AuditLedger interface {
	Append(ctx context.Context, entry AuditEntry) (uuid.UUID, error)
}

// AuditReader exposes the ledger read side.
type AuditReader interface {
	Get(ctx context.Context, id uuid.UUID) (AuditEntry, error)
	Query(ctx context.Context, filter AuditFilter) (AuditPage, error)
	EntityHistory(ctx context.Context, entityType EntityType, entityID string) ([]AuditEntry, error)
	RelatedByCorrelation(ctx context.Context, id uuid.UUID) ([]AuditEntry, error)
	Verify(ctx context.Context, id uuid.UUID) (bool, error)
	Stats(ctx context.Context, filter AuditFilter) (AuditStats, error)
	Export(ctx context.Context, filter AuditFilter, fn func(AuditEntry) error) error
}
