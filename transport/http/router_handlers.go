package httptransport

import (
	"net/http"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"

	"github.com/goliatone/go-tenancy/command"
	"github.com/goliatone/go-tenancy/pkg/authctx"
	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/query"
	"github.com/goliatone/go-tenancy/service"
	"github.com/goliatone/go-tenancy/subscription"
)

// RouterHandlers serves part of the API as go-router handlers so admin hosts
// built on go-router can mount it beside their own routes. Host middleware
// attaches the actor and request with authctx.WithActor and
// authctx.WithRequest.
//
//	GET  /audit/entities/:type/:id                  EntityHistory
//	GET  /audit/:id/verify                          VerifyAudit
//	GET  /tenants/:id                               TenantDetail
//	POST /subscriptions/:id/pending-change/cancel   CancelScheduledChange
type RouterHandlers struct {
	svc    *service.Service
	logger types.Logger
}

// NewRouterHandlers builds the go-router handler set.
func NewRouterHandlers(svc *service.Service, logger types.Logger) *RouterHandlers {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &RouterHandlers{svc: svc, logger: logger}
}

// EntityHistory lists ledger entries for one entity, newest first.
func (h *RouterHandlers) EntityHistory() router.HandlerFunc {
	return func(ctx router.Context) error {
		entries, err := h.svc.Queries().EntityHistory.Query(ctx.Context(), query.EntityHistoryInput{
			EntityType: types.EntityType(ctx.Param("type", "")),
			EntityID:   ctx.Param("id", ""),
		})
		if err != nil {
			return h.fail(ctx, "entity history failed", err)
		}
		return ctx.JSON(http.StatusOK, map[string]any{"entries": toAuditEntries(entries)})
	}
}

// VerifyAudit recomputes the checksum of one entry.
func (h *RouterHandlers) VerifyAudit() router.HandlerFunc {
	return func(ctx router.Context) error {
		id, err := routerID(ctx, "id")
		if err != nil {
			return h.fail(ctx, "audit verify failed", err)
		}
		result, err := h.svc.Queries().VerifyAudit.Query(ctx.Context(), query.EntryInput{ID: id})
		if err != nil {
			return h.fail(ctx, "audit verify failed", err)
		}
		return ctx.JSON(http.StatusOK, result)
	}
}

// TenantDetail accepts either the tenant id or its slug.
func (h *RouterHandlers) TenantDetail() router.HandlerFunc {
	return func(ctx router.Context) error {
		raw := ctx.Param("id", "")
		input := query.TenantDetailInput{}
		if id, err := uuid.Parse(raw); err == nil {
			input.ID = id
		} else {
			input.Slug = raw
		}
		detail, err := h.svc.Queries().TenantDetail.Query(ctx.Context(), input)
		if err != nil {
			return h.fail(ctx, "tenant detail failed", err)
		}
		return ctx.JSON(http.StatusOK, detail)
	}
}

// CancelScheduledChange drops the pending plan change of a subscription on
// behalf of the actor resolved from the router context.
func (h *RouterHandlers) CancelScheduledChange() router.HandlerFunc {
	return func(ctx router.Context) error {
		actor, err := authctx.ResolveActorFromRouter(ctx)
		if err != nil {
			return h.fail(ctx, "cancel scheduled change rejected", err)
		}
		id, err := routerID(ctx, "id")
		if err != nil {
			return h.fail(ctx, "cancel scheduled change failed", err)
		}
		var result command.SubscriptionResult
		err = h.svc.Commands().SubscriptionCancelChange.Execute(ctx.Context(), command.SubscriptionCancelChangeInput{
			SubscriptionID: id,
			Actor:          actor,
			Request:        authctx.RequestFromRouter(ctx),
			Result:         &result,
		})
		if err != nil {
			return h.fail(ctx, "cancel scheduled change failed", err)
		}
		return ctx.JSON(http.StatusOK, map[string]*subscription.Subscription{"subscription": result.Subscription})
	}
}

func (h *RouterHandlers) fail(ctx router.Context, msg string, err error) error {
	status, body := errorResponse(err)
	requestID := authctx.RequestFromRouter(ctx).RequestID
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, err, "request_id", requestID)
	} else {
		h.logger.Debug(msg, "error", err.Error(), "request_id", requestID)
	}
	return ctx.JSON(status, body)
}

func routerID(ctx router.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Param(name, ""))
	if err != nil {
		return uuid.Nil, badRequest("invalid " + name)
	}
	return id, nil
}
