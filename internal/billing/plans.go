// Package billing implements the subscription and quota engine: plan limits,
// quota gating, the plan lifecycle state machine, webhook processing and
// checkout/portal orchestration.
package billing

import "planguard/internal/types"

// PlanRegistry defines the authoritative per-period limits for each tier.
type PlanRegistry interface {
	// Limit returns the quota for kind under tier. Unknown tiers get the
	// Free limits so lookups fail closed.
	Limit(tier types.PlanTier, kind types.ResourceKind) types.Limit

	// Limits returns every kind's quota for tier.
	Limits(tier types.PlanTier) map[types.ResourceKind]types.Limit
}

// staticPlanRegistry is the compile-time registry used in production.
type staticPlanRegistry struct {
	limits map[types.PlanTier]map[types.ResourceKind]types.Limit
}

// planDefaults is the tier limit table:
//
//	| Tier     | Products  | Ads       | Quotes    |
//	|----------|-----------|-----------|-----------|
//	| Free     | 5         | 1         | 10        |
//	| Standard | 50        | 10        | 100       |
//	| Premium  | unlimited | unlimited | unlimited |
var planDefaults = map[types.PlanTier]map[types.ResourceKind]types.Limit{
	types.PlanFree: {
		types.ResourceProducts: 5,
		types.ResourceAds:      1,
		types.ResourceQuotes:   10,
	},
	types.PlanStandard: {
		types.ResourceProducts: 50,
		types.ResourceAds:      10,
		types.ResourceQuotes:   100,
	},
	types.PlanPremium: {
		types.ResourceProducts: types.Unlimited,
		types.ResourceAds:      types.Unlimited,
		types.ResourceQuotes:   types.Unlimited,
	},
}

// NewStaticPlanRegistry returns a PlanRegistry backed by the built-in table.
func NewStaticPlanRegistry() PlanRegistry {
	m := make(map[types.PlanTier]map[types.ResourceKind]types.Limit, len(planDefaults))
	for tier, kinds := range planDefaults {
		inner := make(map[types.ResourceKind]types.Limit, len(kinds))
		for k, v := range kinds {
			inner[k] = v
		}
		m[tier] = inner
	}
	return &staticPlanRegistry{limits: m}
}

func (r *staticPlanRegistry) Limit(tier types.PlanTier, kind types.ResourceKind) types.Limit {
	kinds, ok := r.limits[tier]
	if !ok {
		kinds = r.limits[types.PlanFree]
	}
	if limit, ok := kinds[kind]; ok {
		return limit
	}
	// An unlisted kind has no quota to spend.
	return 0
}

func (r *staticPlanRegistry) Limits(tier types.PlanTier) map[types.ResourceKind]types.Limit {
	out := make(map[types.ResourceKind]types.Limit, len(types.AllResourceKinds))
	for _, kind := range types.AllResourceKinds {
		out[kind] = r.Limit(tier, kind)
	}
	return out
}
