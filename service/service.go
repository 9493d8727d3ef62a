package service

import (
	"context"
	"errors"
	"fmt"

	featuregate "github.com/goliatone/go-featuregate/gate"
	masker "github.com/goliatone/go-masker"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenancy/command"
	"github.com/goliatone/go-tenancy/ledger"
	"github.com/goliatone/go-tenancy/outbox"
	"github.com/goliatone/go-tenancy/pkg/metrics"
	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/plan"
	"github.com/goliatone/go-tenancy/query"
	"github.com/goliatone/go-tenancy/subscription"
	"github.com/goliatone/go-tenancy/syslog"
	"github.com/goliatone/go-tenancy/tenant"
)

// Service is the entry point for go-tenancy. It wires the ledger, the
// operational log, the tenant and subscription stores and the command/query
// facades on top of a single bun.DB supplied by the host application.
type Service struct {
	cfg           Config
	ledger        *ledger.Repository
	syslog        *syslog.Repository
	tenants       *tenant.Store
	subscriptions *subscription.Store
	plans         *plan.Catalog
	outbox        outbox.Store
	resolver      *ledger.EntityResolver
	commands      Commands
	queries       Queries
}

// Commands exposes the service command handlers.
type Commands struct {
	TenantProvision          *command.TenantProvisionCommand
	TenantProvisioning       *command.TenantProvisioningCommand
	TenantHeartbeat          *command.TenantHeartbeatCommand
	TenantSuspend            *command.TenantSuspendCommand
	TenantReactivate         *command.TenantReactivateCommand
	TenantCancel             *command.TenantCancelCommand
	TenantMarkOverdue        *command.TenantMarkOverdueCommand
	TenantActivate           *command.TenantActivateCommand
	TenantExtendTrial        *command.TenantExtendTrialCommand
	SubscriptionChangePlan   *command.SubscriptionChangePlanCommand
	SubscriptionCancelChange *command.SubscriptionCancelChangeCommand
	ApplyDueChanges          *command.ApplyDueChangesCommand
	SubscriptionCancel       *command.SubscriptionCancelCommand
	SubscriptionReactivate   *command.SubscriptionReactivateCommand
	SubscriptionMarkOverdue  *command.SubscriptionMarkOverdueCommand
	SubscriptionExpire       *command.SubscriptionExpireCommand
	SubscriptionRenew        *command.SubscriptionRenewCommand
	RecordAudit              *command.AuditRecordCommand
	LogSystemEvent           *command.SystemLogCommand
}

// Queries exposes read-model helpers.
type Queries struct {
	AuditFeed          *query.AuditFeedQuery
	AuditStats         *query.AuditStatsQuery
	EntityHistory      *query.EntityHistoryQuery
	RelatedAudit       *query.RelatedAuditQuery
	VerifyAudit        *query.VerifyAuditQuery
	AuditEntity        *query.AuditEntityQuery
	SystemLogFeed      *query.SystemLogFeedQuery
	SystemLogHistory   *query.SystemLogHistoryQuery
	RelatedSystemLog   *query.RelatedSystemLogQuery
	TenantList         *query.TenantListQuery
	TenantDetail       *query.TenantDetailQuery
	TrialsEnding       *query.TrialsEndingQuery
	SubscriptionList   *query.SubscriptionListQuery
	SubscriptionDetail *query.SubscriptionDetailQuery
	PlanList           *query.PlanListQuery
}

// Config captures the dependencies. Only DB is required; everything else has
// a working default.
type Config struct {
	DB                 *bun.DB
	Outbox             outbox.Store
	DisableOutbox      bool
	FeatureGate        featuregate.FeatureGate
	Metrics            *metrics.Metrics
	Masker             *masker.Masker
	PlanCache          bool
	Hooks              types.Hooks
	Clock              types.Clock
	IDGenerator        types.IDGenerator
	Logger             types.Logger
	TenantPolicy       types.TransitionPolicy[types.TenantStatus]
	ProvisioningPolicy types.TransitionPolicy[types.ProvisioningStatus]
	SubscriptionPolicy types.TransitionPolicy[types.SubscriptionStatus]
}

// New constructs a Service from the supplied configuration.
func New(cfg Config) (*Service, error) {
	if cfg.DB == nil {
		return nil, types.ErrMissingDB
	}
	norm := normalizeConfig(cfg)

	s := &Service{cfg: norm}
	var err error
	ledgerCfg := ledger.RepositoryConfig{
		DB:     norm.DB,
		Clock:  norm.Clock,
		IDGen:  norm.IDGenerator,
		Logger: norm.Logger,
		Masker: norm.Masker,
		Hooks:  norm.Hooks,
	}
	if norm.Metrics != nil {
		ledgerCfg.Metrics = norm.Metrics
	}
	if s.ledger, err = ledger.NewRepository(ledgerCfg); err != nil {
		return nil, err
	}
	if s.syslog, err = syslog.NewRepository(syslog.RepositoryConfig{DB: norm.DB, Clock: norm.Clock, IDGen: norm.IDGenerator}); err != nil {
		return nil, err
	}
	if s.tenants, err = tenant.NewStore(tenant.StoreConfig{DB: norm.DB, Clock: norm.Clock}); err != nil {
		return nil, err
	}
	if s.subscriptions, err = subscription.NewStore(subscription.StoreConfig{DB: norm.DB, Clock: norm.Clock, IDGen: norm.IDGenerator}); err != nil {
		return nil, err
	}
	if s.plans, err = plan.NewCatalog(plan.CatalogConfig{DB: norm.DB, Clock: norm.Clock, IDGen: norm.IDGenerator}, plan.WithCache(norm.PlanCache)); err != nil {
		return nil, err
	}
	switch {
	case norm.DisableOutbox:
	case norm.Outbox != nil:
		s.outbox = norm.Outbox
	default:
		store, err := outbox.NewBunStore(norm.DB)
		if err != nil {
			return nil, err
		}
		s.outbox = store
	}
	if s.resolver, err = s.buildResolver(); err != nil {
		return nil, err
	}
	s.commands = s.buildCommands()
	s.queries = s.buildQueries()
	return s, nil
}

func normalizeConfig(cfg Config) Config {
	if cfg.Clock == nil {
		cfg.Clock = types.SystemClock{}
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = types.UUIDGenerator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = types.NopLogger{}
	}
	if cfg.Masker == nil {
		cfg.Masker = ledger.DefaultMasker()
	}
	if cfg.TenantPolicy == nil {
		cfg.TenantPolicy = types.DefaultTenantPolicy()
	}
	if cfg.ProvisioningPolicy == nil {
		cfg.ProvisioningPolicy = types.DefaultProvisioningPolicy()
	}
	if cfg.SubscriptionPolicy == nil {
		cfg.SubscriptionPolicy = types.DefaultSubscriptionPolicy()
	}
	return cfg
}

// Commands returns the command facade.
func (s *Service) Commands() Commands {
	return s.commands
}

// Queries returns the query facade.
func (s *Service) Queries() Queries {
	return s.queries
}

// Ledger exposes the audit ledger for producers that append directly.
func (s *Service) Ledger() *ledger.Repository {
	return s.ledger
}

// SystemLog exposes the operational log store, including Redact and Prune.
func (s *Service) SystemLog() *syslog.Repository {
	return s.syslog
}

// Plans exposes the plan catalog.
func (s *Service) Plans() *plan.Catalog {
	return s.plans
}

// Outbox returns the outbox store, nil when disabled.
func (s *Service) Outbox() outbox.Store {
	return s.outbox
}

// Resolver returns the entity resolver so hosts can register fetchers for
// entity types they own.
func (s *Service) Resolver() *ledger.EntityResolver {
	return s.resolver
}

// HealthCheck pings the database.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s == nil || s.cfg.DB == nil {
		return types.ErrMissingDB
	}
	if err := s.cfg.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("go-tenancy: database unreachable: %w", err)
	}
	return nil
}

func (s *Service) lifecycleConfig() command.LifecycleConfig {
	cfg := command.LifecycleConfig{
		DB:                 s.cfg.DB,
		Tenants:            s.tenants,
		Subscriptions:      s.subscriptions,
		Plans:              s.plans,
		Ledger:             s.ledger,
		Outbox:             s.outbox,
		SystemLog:          s.syslog,
		TenantPolicy:       s.cfg.TenantPolicy,
		ProvisioningPolicy: s.cfg.ProvisioningPolicy,
		SubscriptionPolicy: s.cfg.SubscriptionPolicy,
		FeatureGate:        s.cfg.FeatureGate,
		Clock:              s.cfg.Clock,
		IDGen:              s.cfg.IDGenerator,
		Logger:             s.cfg.Logger,
		Hooks:              s.cfg.Hooks,
	}
	if s.cfg.Metrics != nil {
		cfg.Metrics = s.cfg.Metrics
	}
	return cfg
}

func (s *Service) buildCommands() Commands {
	lc := s.lifecycleConfig()
	return Commands{
		TenantProvision:          command.NewTenantProvisionCommand(lc),
		TenantProvisioning:       command.NewTenantProvisioningCommand(lc),
		TenantHeartbeat:          command.NewTenantHeartbeatCommand(lc),
		TenantSuspend:            command.NewTenantSuspendCommand(lc),
		TenantReactivate:         command.NewTenantReactivateCommand(lc),
		TenantCancel:             command.NewTenantCancelCommand(lc),
		TenantMarkOverdue:        command.NewTenantMarkOverdueCommand(lc),
		TenantActivate:           command.NewTenantActivateCommand(lc),
		TenantExtendTrial:        command.NewTenantExtendTrialCommand(lc),
		SubscriptionChangePlan:   command.NewSubscriptionChangePlanCommand(lc),
		SubscriptionCancelChange: command.NewSubscriptionCancelChangeCommand(lc),
		ApplyDueChanges:          command.NewApplyDueChangesCommand(lc),
		SubscriptionCancel:       command.NewSubscriptionCancelCommand(lc),
		SubscriptionReactivate:   command.NewSubscriptionReactivateCommand(lc),
		SubscriptionMarkOverdue:  command.NewSubscriptionMarkOverdueCommand(lc),
		SubscriptionExpire:       command.NewSubscriptionExpireCommand(lc),
		SubscriptionRenew:        command.NewSubscriptionRenewCommand(lc),
		RecordAudit: command.NewAuditRecordCommand(command.AuditRecordConfig{
			DB:     s.cfg.DB,
			Ledger: s.ledger,
			Outbox: s.outbox,
			Clock:  s.cfg.Clock,
		}),
		LogSystemEvent: command.NewSystemLogCommand(command.SystemLogConfig{
			Sink:  s.syslog,
			Clock: s.cfg.Clock,
		}),
	}
}

func (s *Service) buildQueries() Queries {
	return Queries{
		AuditFeed:        query.NewAuditFeedQuery(s.ledger),
		AuditStats:       query.NewAuditStatsQuery(s.ledger),
		EntityHistory:    query.NewEntityHistoryQuery(s.ledger),
		RelatedAudit:     query.NewRelatedAuditQuery(s.ledger),
		VerifyAudit:      query.NewVerifyAuditQuery(s.ledger),
		AuditEntity:      query.NewAuditEntityQuery(s.ledger, s.resolver),
		SystemLogFeed:    query.NewSystemLogFeedQuery(s.syslog),
		SystemLogHistory: query.NewSystemLogHistoryQuery(s.syslog),
		RelatedSystemLog: query.NewRelatedSystemLogQuery(s.syslog),
		TenantList:       query.NewTenantListQuery(s.tenants),
		TenantDetail: query.NewTenantDetailQuery(query.TenantDetailConfig{
			Tenants:       s.tenants,
			Subscriptions: s.subscriptions,
			Plans:         s.plans,
			Policy:        s.cfg.TenantPolicy,
			Clock:         s.cfg.Clock,
		}),
		TrialsEnding:       query.NewTrialsEndingQuery(s.tenants, s.cfg.Clock),
		SubscriptionList:   query.NewSubscriptionListQuery(s.subscriptions, s.cfg.Clock),
		SubscriptionDetail: query.NewSubscriptionDetailQuery(s.subscriptions, s.plans, s.cfg.Clock),
		PlanList:           query.NewPlanListQuery(s.plans),
	}
}

// buildResolver registers the entities this module owns.
func (s *Service) buildResolver() (*ledger.EntityResolver, error) {
	resolver := ledger.NewEntityResolver()
	err := errors.Join(
		resolver.Register(types.EntityTenant, func(ctx context.Context, id string) (any, error) {
			parsed, err := parseEntityID(id)
			if err != nil {
				return nil, err
			}
			return s.tenants.Get(ctx, parsed)
		}),
		resolver.Register(types.EntitySubscription, func(ctx context.Context, id string) (any, error) {
			parsed, err := parseEntityID(id)
			if err != nil {
				return nil, err
			}
			return s.subscriptions.Get(ctx, parsed)
		}),
		resolver.Register(types.EntityPlan, func(ctx context.Context, id string) (any, error) {
			parsed, err := parseEntityID(id)
			if err != nil {
				return nil, err
			}
			return s.plans.Get(ctx, parsed)
		}),
	)
	if err != nil {
		return nil, err
	}
	return resolver, nil
}

func parseEntityID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed entity id %q", types.ErrValidation, id)
	}
	return parsed, nil
}
