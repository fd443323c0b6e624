package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planguard/internal/types"
)

func TestUsageReporter_GetCurrentUsage(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	reporter := NewUsageReporter(e.plans, e.usage, NewStaticPlanRegistry())
	reporter.now = fixedClock

	for i := 0; i < 3; i++ {
		_, err := e.gate.TryConsume(ctx, "tenant-1", types.ResourceProducts, 1)
		require.NoError(t, err)
	}

	snap, err := reporter.GetCurrentUsage(ctx, "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, types.PeriodKey("2026-10"), snap.Period)
	assert.Equal(t, types.PlanFree, snap.Tier)
	assert.Equal(t, types.SubStatusActive, snap.Status)
	assert.Equal(t, types.ResourceUsage{Used: 3, Limit: 5}, snap.Usage[types.ResourceProducts])
	assert.Equal(t, types.ResourceUsage{Used: 0, Limit: 1}, snap.Usage[types.ResourceAds])
	assert.Equal(t, types.ResourceUsage{Used: 0, Limit: 10}, snap.Usage[types.ResourceQuotes])
}

func TestUsageReporter_PremiumReportsUnlimited(t *testing.T) {
	e := newTestEngine()
	seedPlan(t, e.plans, "tenant-p", types.PlanPremium, types.SubStatusActive, 1)
	reporter := NewUsageReporter(e.plans, e.usage, NewStaticPlanRegistry())
	reporter.now = fixedClock

	snap, err := reporter.GetCurrentUsage(context.Background(), "tenant-p")
	require.NoError(t, err)

	for _, kind := range types.AllResourceKinds {
		assert.True(t, snap.Usage[kind].Unlimited, kind)
		assert.Equal(t, types.Unlimited, snap.Usage[kind].Limit)
	}
}

func TestUsageReporter_MissingTenant(t *testing.T) {
	e := newTestEngine()
	reporter := NewUsageReporter(e.plans, e.usage, NewStaticPlanRegistry())

	_, err := reporter.GetCurrentUsage(context.Background(), "")
	assert.True(t, types.IsCode(err, types.ErrCodeValidationMissingField))
}
