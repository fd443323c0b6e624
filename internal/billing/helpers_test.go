package billing

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"planguard/internal/memstore"
	"planguard/internal/types"
)

var testNow = time.Date(2026, time.October, 18, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedPlan forces a tenant into the given state through the store.
func seedPlan(t *testing.T, plans PlanStore, tenantID string, tier types.PlanTier, status types.SubscriptionStatus, version int64) {
	t.Helper()
	err := plans.Update(context.Background(), tenantID, func(cur *types.Plan) (*types.Plan, error) {
		cur.Tier = tier
		cur.Status = status
		cur.AppliedVersion = version
		return cur, nil
	})
	require.NoError(t, err)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if s := args.Get(0); s != nil {
		return s.(*types.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	args := m.Called(ctx, customerID)
	return args.String(0), args.Error(1)
}

// recordingPublisher captures published plan changes.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []types.PlanChangedMessage
	err  error
}

func (p *recordingPublisher) PublishPlanChanged(_ context.Context, msg types.PlanChangedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) messages() []types.PlanChangedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.PlanChangedMessage(nil), p.msgs...)
}

// newTestEngine wires the engine against in-memory stores with a fixed clock.
type testEngine struct {
	plans     *memstore.PlanStore
	usage     *memstore.UsageStore
	ledger    *memstore.EventLedger
	gate      *QuotaGate
	machine   *PlanStateMachine
	publisher *recordingPublisher
}

func newTestEngine() *testEngine {
	e := &testEngine{
		plans:     memstore.NewPlanStore(),
		usage:     memstore.NewUsageStore(),
		ledger:    memstore.NewEventLedger(),
		publisher: &recordingPublisher{},
	}
	e.gate = NewQuotaGate(e.plans, e.usage, NewStaticPlanRegistry(), nil, discardLogger())
	e.gate.now = fixedClock
	e.machine = NewPlanStateMachine(e.plans, e.publisher, discardLogger())
	e.machine.now = fixedClock
	return e
}
