// Package handlers contains the HTTP handlers for planguard. Each handler
// declares the narrow service interface it needs and registers its own
// routes on the router it is given.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"planguard/internal/billing"
	"planguard/internal/core"
	"planguard/internal/types"
)

// QuotaService is the quota gate as seen by the HTTP layer.
type QuotaService interface {
	TryConsume(ctx context.Context, tenantID string, kind types.ResourceKind, amount int64) (*billing.ConsumeResult, error)
	Release(ctx context.Context, tenantID string, kind types.ResourceKind, amount int64) (int64, error)
	ReleaseFromPeriod(ctx context.Context, tenantID string, kind types.ResourceKind, period types.PeriodKey, amount int64) (int64, error)
}

// ConsumeRequest is the body of POST /v1/quota/consume.
type ConsumeRequest struct {
	Kind   types.ResourceKind `json:"kind" validate:"required,resource_kind"`
	Amount int64              `json:"amount" validate:"gt=0"`
}

// ReleaseRequest is the body of POST /v1/quota/release. Period defaults to
// the current billing period.
type ReleaseRequest struct {
	Kind   types.ResourceKind `json:"kind" validate:"required,resource_kind"`
	Amount int64              `json:"amount" validate:"gt=0"`
	Period types.PeriodKey    `json:"period,omitempty" validate:"omitempty,period_key"`
}

// ReleaseResponse is returned by POST /v1/quota/release.
type ReleaseResponse struct {
	NewCount int64 `json:"new_count"`
}

// QuotaHandler serves the quota endpoints.
type QuotaHandler struct {
	quota     QuotaService
	validator *core.Validator
	logger    *slog.Logger
}

// NewQuotaHandler creates a QuotaHandler.
func NewQuotaHandler(quota QuotaService, v *core.Validator, logger *slog.Logger) *QuotaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuotaHandler{quota: quota, validator: v, logger: logger}
}

// RegisterRoutes mounts the quota endpoints on an authenticated router.
func (h *QuotaHandler) RegisterRoutes(r chi.Router) {
	r.Post("/quota/consume", h.Consume)
	r.Post("/quota/release", h.Release)
}

// Consume reserves quota for the caller's tenant. A rejected reservation is
// a 429 carrying the current count and limit.
func (h *QuotaHandler) Consume(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}

	var req ConsumeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.quota.TryConsume(r.Context(), tenantID, req.Kind, req.Amount)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "quota consume failed",
			"tenant_id", tenantID,
			"kind", req.Kind,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	if !res.Allowed {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeLimitQuotaExceeded,
			"quota exceeded for "+string(res.Kind), nil,
			map[string]any{
				"kind":   res.Kind,
				"count":  res.NewCount,
				"limit":  int64(res.Limit),
				"tier":   res.Tier,
				"period": res.Period,
			}))
		return
	}

	core.Data(w, r, http.StatusOK, res)
}

// Release returns quota to the caller's tenant.
func (h *QuotaHandler) Release(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}

	var req ReleaseRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	var (
		count int64
		err   error
	)
	if req.Period == "" {
		count, err = h.quota.Release(r.Context(), tenantID, req.Kind, req.Amount)
	} else {
		count, err = h.quota.ReleaseFromPeriod(r.Context(), tenantID, req.Kind, req.Period, req.Amount)
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.Data(w, r, http.StatusOK, ReleaseResponse{NewCount: count})
}

// tenantFrom returns the tenant bound by the auth middleware, writing a 401
// when it is absent.
func tenantFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, ok := types.GetTenantID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTenantMissing, "tenant context is required", nil))
		return "", false
	}
	return tenantID, true
}
