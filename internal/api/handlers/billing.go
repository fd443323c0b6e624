package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"planguard/internal/core"
	"planguard/internal/types"
)

// CheckoutService creates gateway checkout sessions.
type CheckoutService interface {
	CreateSession(ctx context.Context, tenantID string, tier types.PlanTier) (*types.CheckoutSession, error)
}

// PortalService issues self-service billing portal links.
type PortalService interface {
	GetPortalURL(ctx context.Context, tenantID string) (string, error)
}

// UsageService reports the current period's usage.
type UsageService interface {
	GetCurrentUsage(ctx context.Context, tenantID string) (*types.UsageSnapshot, error)
}

// PlanReader reads a tenant's plan, creating the free plan on first access.
type PlanReader interface {
	GetOrCreate(ctx context.Context, tenantID string) (*types.Plan, error)
}

// CheckoutRequestBody is the body of POST /v1/billing/checkout. Redirect URLs
// come from configuration, never from the caller.
type CheckoutRequestBody struct {
	Tier types.PlanTier `json:"tier" validate:"required,paid_tier"`
}

// PortalResponse is returned by POST /v1/billing/portal.
type PortalResponse struct {
	URL string `json:"url"`
}

// PlanResponse is returned by GET /v1/billing/plan. EffectiveTier differs
// from Plan.Tier after a cancellation once the period rolls over.
type PlanResponse struct {
	Plan          *types.Plan     `json:"plan"`
	EffectiveTier types.PlanTier  `json:"effective_tier"`
	Period        types.PeriodKey `json:"period"`
}

// BillingHandler serves checkout, portal, plan and usage endpoints.
type BillingHandler struct {
	checkout  CheckoutService
	portal    PortalService
	usage     UsageService
	plans     PlanReader
	validator *core.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(
	checkout CheckoutService,
	portal PortalService,
	usage UsageService,
	plans PlanReader,
	v *core.Validator,
	logger *slog.Logger,
) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		checkout:  checkout,
		portal:    portal,
		usage:     usage,
		plans:     plans,
		validator: v,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterRoutes mounts the billing endpoints on an authenticated router.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout", h.CreateCheckout)
	r.Post("/billing/portal", h.CreatePortal)
	r.Get("/billing/plan", h.GetPlan)
	r.Get("/usage", h.GetUsage)
}

// CreateCheckout starts a gateway checkout for a paid tier.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}

	var req CheckoutRequestBody
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	session, err := h.checkout.CreateSession(r.Context(), tenantID, req.Tier)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, session)
}

// CreatePortal returns a billing portal link. The request body is ignored.
func (h *BillingHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}

	url, err := h.portal.GetPortalURL(r.Context(), tenantID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, PortalResponse{URL: url})
}

// GetPlan returns the tenant's plan record.
func (h *BillingHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}

	plan, err := h.plans.GetOrCreate(r.Context(), tenantID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "plan read failed", "tenant_id", tenantID, "error", err)
		core.Error(w, r, err)
		return
	}

	now := h.now()
	core.Data(w, r, http.StatusOK, PlanResponse{
		Plan:          plan,
		EffectiveTier: plan.EffectiveTier(now),
		Period:        types.PeriodKeyFor(now),
	})
}

// GetUsage returns the current period's usage snapshot.
func (h *BillingHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}

	snapshot, err := h.usage.GetCurrentUsage(r.Context(), tenantID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "usage snapshot failed", "tenant_id", tenantID, "error", err)
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, snapshot)
}
