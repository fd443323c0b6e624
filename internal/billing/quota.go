package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"planguard/internal/types"
)

// ConsumeResult is the outcome of a TryConsume call. A rejected request is a
// normal result with Allowed=false, not an error.
type ConsumeResult struct {
	Allowed  bool               `json:"allowed"`
	NewCount int64              `json:"new_count"`
	Limit    types.Limit        `json:"limit"`
	Kind     types.ResourceKind `json:"kind"`
	Tier     types.PlanTier     `json:"tier"`
	Period   types.PeriodKey    `json:"period"`
}

// QuotaGate decides whether a tenant may consume more of a resource in the
// current billing period and applies the increment atomically.
type QuotaGate struct {
	plans    PlanStore
	usage    UsageStore
	registry PlanRegistry
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewQuotaGate creates a QuotaGate. recorder and logger may be nil.
func NewQuotaGate(plans PlanStore, usage UsageStore, registry PlanRegistry, recorder Recorder, logger *slog.Logger) *QuotaGate {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &QuotaGate{
		plans:    plans,
		usage:    usage,
		registry: registry,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// TryConsume reserves amount units of kind for the tenant. Callers create the
// underlying resource only after Allowed is returned and call Release if that
// creation fails.
func (g *QuotaGate) TryConsume(ctx context.Context, tenantID string, kind types.ResourceKind, amount int64) (*ConsumeResult, error) {
	if err := validateUsageArgs(tenantID, kind, amount); err != nil {
		return nil, err
	}

	now := g.now()
	plan, err := g.plans.GetOrCreate(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	tier := plan.EffectiveTier(now)
	limit := g.registry.Limit(tier, kind)
	key := types.UsageKey{TenantID: tenantID, Period: types.PeriodKeyFor(now), Kind: kind}

	count, allowed, err := g.usage.Consume(ctx, key, amount, limit)
	if err != nil {
		return nil, err
	}

	g.recorder.QuotaDecision(kind, tier, allowed)
	if !allowed {
		g.logger.InfoContext(ctx, "quota exceeded",
			"tenant_id", tenantID,
			"kind", kind,
			"tier", tier,
			"count", count,
			"limit", int64(limit),
			"amount", amount,
		)
	}

	return &ConsumeResult{
		Allowed:  allowed,
		NewCount: count,
		Limit:    limit,
		Kind:     kind,
		Tier:     tier,
		Period:   key.Period,
	}, nil
}

// Release returns amount units of kind to the tenant's current period. The
// counter never drops below zero.
func (g *QuotaGate) Release(ctx context.Context, tenantID string, kind types.ResourceKind, amount int64) (int64, error) {
	return g.ReleaseFromPeriod(ctx, tenantID, kind, types.PeriodKeyFor(g.now()), amount)
}

// ReleaseFromPeriod is Release for an explicit period. Only the current period
// may be decremented; earlier periods are closed.
func (g *QuotaGate) ReleaseFromPeriod(ctx context.Context, tenantID string, kind types.ResourceKind, period types.PeriodKey, amount int64) (int64, error) {
	if err := validateUsageArgs(tenantID, kind, amount); err != nil {
		return 0, err
	}
	if !period.IsValid() {
		return 0, types.NewAppError(types.ErrCodeValidationInvalidPeriod,
			fmt.Sprintf("period %q is not a YYYY-MM month", period), nil)
	}

	current := types.PeriodKeyFor(g.now())
	if period != current {
		return 0, types.NewAppErrorWithDetails(types.ErrCodeConflictPeriodClosed,
			"usage for a closed billing period cannot be released", nil,
			map[string]any{"period": period, "current_period": current})
	}

	key := types.UsageKey{TenantID: tenantID, Period: period, Kind: kind}
	return g.usage.Release(ctx, key, amount)
}

func validateUsageArgs(tenantID string, kind types.ResourceKind, amount int64) error {
	if tenantID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "tenant id is required", nil)
	}
	if !kind.IsValid() {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidKind,
			fmt.Sprintf("unknown resource kind %q", kind), nil,
			map[string]any{"allowed": types.AllResourceKinds})
	}
	if amount <= 0 {
		return types.NewAppError(types.ErrCodeValidationInvalidAmount, "amount must be greater than zero", nil)
	}
	return nil
}
