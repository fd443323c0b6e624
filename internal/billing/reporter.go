package billing

import (
	"context"
	"time"

	"planguard/internal/types"
)

// UsageReporter builds read-only usage snapshots.
type UsageReporter struct {
	plans    PlanStore
	usage    UsageStore
	registry PlanRegistry
	now      func() time.Time
}

// NewUsageReporter creates a UsageReporter.
func NewUsageReporter(plans PlanStore, usage UsageStore, registry PlanRegistry) *UsageReporter {
	return &UsageReporter{plans: plans, usage: usage, registry: registry, now: time.Now}
}

// GetCurrentUsage returns the current period's counters for every resource
// kind against the limits of the tenant's effective tier. Kinds with no usage
// yet report zero.
func (r *UsageReporter) GetCurrentUsage(ctx context.Context, tenantID string) (*types.UsageSnapshot, error) {
	if tenantID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "tenant id is required", nil)
	}

	now := r.now()
	plan, err := r.plans.GetOrCreate(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	period := types.PeriodKeyFor(now)
	counts, err := r.usage.Counts(ctx, tenantID, period)
	if err != nil {
		return nil, err
	}

	tier := plan.EffectiveTier(now)
	limits := r.registry.Limits(tier)

	usage := make(map[types.ResourceKind]types.ResourceUsage, len(types.AllResourceKinds))
	for _, kind := range types.AllResourceKinds {
		limit := limits[kind]
		usage[kind] = types.ResourceUsage{
			Used:      counts[kind],
			Limit:     limit,
			Unlimited: limit.IsUnlimited(),
		}
	}

	return &types.UsageSnapshot{
		TenantID: tenantID,
		Period:   period,
		Tier:     tier,
		Status:   plan.Status,
		Usage:    usage,
	}, nil
}
