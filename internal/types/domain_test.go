package types

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimitAllows(t *testing.T) {
	assert.True(t, Limit(5).Allows(4, 1))
	assert.False(t, Limit(5).Allows(5, 1))
	assert.False(t, Limit(5).Allows(3, 3))
	assert.True(t, Unlimited.Allows(1<<40, 1000))
	assert.True(t, Unlimited.IsUnlimited())

	assert.False(t, Limit(5).Allows(1, math.MaxInt64), "sum would overflow")
	assert.False(t, Limit(5).Allows(0, math.MaxInt64))
	assert.False(t, Unlimited.Allows(10, math.MaxInt64-5))
	assert.True(t, Unlimited.Allows(0, math.MaxInt64))
}

func TestPeriodKeyFor(t *testing.T) {
	ts := time.Date(2026, time.October, 31, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))
	assert.Equal(t, PeriodKey("2026-11"), PeriodKeyFor(ts), "period is computed in UTC")
	assert.True(t, PeriodKey("2026-02").IsValid())
	assert.False(t, PeriodKey("2026-13").IsValid())
	assert.False(t, PeriodKey("").IsValid())
}

func TestPlanEffectiveTier(t *testing.T) {
	now := time.Date(2026, time.October, 18, 12, 0, 0, 0, time.UTC)

	active := &Plan{Tier: PlanStandard, Status: SubStatusActive}
	assert.Equal(t, PlanStandard, active.EffectiveTier(now))

	pastDue := &Plan{Tier: PlanPremium, Status: SubStatusPastDue}
	assert.Equal(t, PlanPremium, pastDue.EffectiveTier(now))

	canceledAt := now.Add(-48 * time.Hour)
	canceledThisPeriod := &Plan{Tier: PlanPremium, Status: SubStatusCanceled, CanceledAt: &canceledAt}
	assert.Equal(t, PlanPremium, canceledThisPeriod.EffectiveTier(now))

	lastMonth := now.AddDate(0, -1, 0)
	canceledLastPeriod := &Plan{Tier: PlanPremium, Status: SubStatusCanceled, CanceledAt: &lastMonth}
	assert.Equal(t, PlanFree, canceledLastPeriod.EffectiveTier(now))
}

func TestPlanClone(t *testing.T) {
	cus := "cus_123"
	p := &Plan{TenantID: "t1", Tier: PlanStandard, Status: SubStatusActive, ExternalCustomerID: &cus}

	c := p.Clone()
	*c.ExternalCustomerID = "cus_other"

	assert.Equal(t, "cus_123", p.CustomerID())
	assert.Equal(t, "cus_other", c.CustomerID())
	assert.Equal(t, "", NewFreePlan("t2", time.Now()).CustomerID())
}

func TestEnums(t *testing.T) {
	assert.True(t, PlanStandard.IsPaid())
	assert.False(t, PlanFree.IsPaid())
	assert.False(t, PlanTier("gold").IsValid())
	assert.True(t, ResourceQuotes.IsValid())
	assert.False(t, ResourceKind("widgets").IsValid())
}
