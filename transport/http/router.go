// Package httptransport exposes the ledger, the operational log and the
// tenancy read models over a chi router.
package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-tenancy/pkg/authctx"
	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/service"
)

// Config wires the router.
type Config struct {
	Service  *service.Service
	Logger   types.Logger
	Gatherer prometheus.Gatherer
	Timeout  time.Duration
}

// Handler is the thin HTTP layer over the service facades.
type Handler struct {
	svc    *service.Service
	logger types.Logger
}

// NewRouter mounts every endpoint with the shared middleware stack.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	h := &Handler{svc: cfg.Service, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestContext)

	r.Get("/health", h.handleHealth)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Get("/audit", h.handleAuditFeed)
		r.Get("/audit/stats", h.handleAuditStats)
		r.Get("/audit/export", h.handleAuditExport)
		r.Get("/audit/entities/{type}/{id}", h.handleEntityHistory)
		r.Get("/audit/{id}", h.handleAuditEntry)
		r.Get("/audit/{id}/verify", h.handleAuditVerify)
		r.Get("/audit/{id}/related", h.handleAuditRelated)

		r.Get("/system-logs", h.handleSystemLogFeed)
		r.Get("/system-logs/targets/{type}/{id}", h.handleSystemLogHistory)
		r.Get("/system-logs/{id}/related", h.handleSystemLogRelated)

		r.Get("/tenants", h.handleTenantList)
		r.Get("/tenants/trials-ending", h.handleTrialsEnding)
		r.Get("/tenants/{id}", h.handleTenantDetail)
		r.Get("/subscriptions", h.handleSubscriptionList)
		r.Get("/subscriptions/{id}", h.handleSubscriptionDetail)
		r.Get("/plans", h.handlePlanList)

		r.Group(func(r chi.Router) {
			r.Use(requireActor)
			r.Post("/audit", h.handleAuditRecord)
			r.Post("/system-logs", h.handleSystemLogWrite)
		})
	})
	return r
}

// requestContext captures caller metadata once per request. chi's request id
// is used when the gateway did not forward one.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := authctx.RequestContextFromRequest(r)
		if rc.RequestID == "" {
			rc.RequestID = middleware.GetReqID(r.Context())
		}
		if rc.CorrelationID == "" {
			rc.CorrelationID = rc.RequestID
		}
		ctx := authctx.WithRequest(r.Context(), rc)
		if actor, err := authctx.ActorFromRequest(r); err == nil {
			ctx = authctx.WithActor(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authctx.ActorFromContext(r.Context()); !ok {
			_, err := authctx.ActorFromRequest(r)
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.svc.HealthCheck(ctx); err != nil {
		h.logger.Error("health check failed", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
