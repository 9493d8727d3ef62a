package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/goliatone/go-tenancy/pkg/types"
	"github.com/goliatone/go-tenancy/query"
	"github.com/goliatone/go-tenancy/subscription"
	"github.com/goliatone/go-tenancy/tenant"
)

func (h *Handler) handleTenantList(w http.ResponseWriter, r *http.Request) {
	p := queryParams(r)
	filter := tenant.Filter{
		ProvisioningStatus: types.ProvisioningStatus(p.str("provisioning_status")),
		PlanID:             p.id("plan_id"),
		Search:             p.str("q"),
		TrialEndingBefore:  p.time("trial_ending_before"),
		HeartbeatBefore:    p.time("heartbeat_before"),
		Pagination:         p.pagination(),
	}
	for _, status := range p.list("status") {
		filter.Statuses = append(filter.Statuses, types.TenantStatus(status))
	}
	if p.err != nil {
		writeError(w, p.err)
		return
	}
	page, err := h.svc.Queries().TenantList.Query(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "tenant list failed", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleTrialsEnding(w http.ResponseWriter, r *http.Request) {
	p := queryParams(r)
	input := query.TrialsEndingInput{Days: p.integer("days"), Pagination: p.pagination()}
	if p.err != nil {
		writeError(w, p.err)
		return
	}
	page, err := h.svc.Queries().TrialsEnding.Query(r.Context(), input)
	if err != nil {
		h.fail(w, r, "trials ending failed", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleTenantDetail accepts either the tenant id or its slug.
func (h *Handler) handleTenantDetail(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	input := query.TenantDetailInput{}
	if id, err := uuid.Parse(raw); err == nil {
		input.ID = id
	} else {
		input.Slug = raw
	}
	detail, err := h.svc.Queries().TenantDetail.Query(r.Context(), input)
	if err != nil {
		h.fail(w, r, "tenant detail failed", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleSubscriptionList(w http.ResponseWriter, r *http.Request) {
	p := queryParams(r)
	filter := subscription.Filter{
		TenantID:           p.id("tenant_id"),
		PlanID:             p.id("plan_id"),
		WithPendingChanges: p.boolean("pending_changes"),
		OnTrialAt:          p.time("on_trial_at"),
		ExpiringWithinDays: p.integer("expiring_within_days"),
		Pagination:         p.pagination(),
	}
	for _, status := range p.list("status") {
		filter.Statuses = append(filter.Statuses, types.SubscriptionStatus(status))
	}
	if p.err != nil {
		writeError(w, p.err)
		return
	}
	page, err := h.svc.Queries().SubscriptionList.Query(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "subscription list failed", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleSubscriptionDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	detail, err := h.svc.Queries().SubscriptionDetail.Query(r.Context(), query.SubscriptionInput{ID: id})
	if err != nil {
		h.fail(w, r, "subscription detail failed", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handlePlanList(w http.ResponseWriter, r *http.Request) {
	plans, err := h.svc.Queries().PlanList.Query(r.Context(), query.PlanListInput{})
	if err != nil {
		h.fail(w, r, "plan list failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}
