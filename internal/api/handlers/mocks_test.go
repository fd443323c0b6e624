package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"planguard/internal/billing"
	"planguard/internal/core"
	"planguard/internal/types"
)

type mockQuota struct {
	tryConsumeFn        func(ctx context.Context, tenantID string, kind types.ResourceKind, amount int64) (*billing.ConsumeResult, error)
	releaseFn           func(ctx context.Context, tenantID string, kind types.ResourceKind, amount int64) (int64, error)
	releaseFromPeriodFn func(ctx context.Context, tenantID string, kind types.ResourceKind, period types.PeriodKey, amount int64) (int64, error)
}

func (m *mockQuota) TryConsume(ctx context.Context, tenantID string, kind types.ResourceKind, amount int64) (*billing.ConsumeResult, error) {
	return m.tryConsumeFn(ctx, tenantID, kind, amount)
}

func (m *mockQuota) Release(ctx context.Context, tenantID string, kind types.ResourceKind, amount int64) (int64, error) {
	return m.releaseFn(ctx, tenantID, kind, amount)
}

func (m *mockQuota) ReleaseFromPeriod(ctx context.Context, tenantID string, kind types.ResourceKind, period types.PeriodKey, amount int64) (int64, error) {
	return m.releaseFromPeriodFn(ctx, tenantID, kind, period, amount)
}

type mockCheckout struct {
	createSessionFn func(ctx context.Context, tenantID string, tier types.PlanTier) (*types.CheckoutSession, error)
}

func (m *mockCheckout) CreateSession(ctx context.Context, tenantID string, tier types.PlanTier) (*types.CheckoutSession, error) {
	return m.createSessionFn(ctx, tenantID, tier)
}

type mockPortal struct {
	getPortalURLFn func(ctx context.Context, tenantID string) (string, error)
}

func (m *mockPortal) GetPortalURL(ctx context.Context, tenantID string) (string, error) {
	return m.getPortalURLFn(ctx, tenantID)
}

type mockUsage struct {
	getCurrentUsageFn func(ctx context.Context, tenantID string) (*types.UsageSnapshot, error)
}

func (m *mockUsage) GetCurrentUsage(ctx context.Context, tenantID string) (*types.UsageSnapshot, error) {
	return m.getCurrentUsageFn(ctx, tenantID)
}

type mockPlans struct {
	getOrCreateFn func(ctx context.Context, tenantID string) (*types.Plan, error)
}

func (m *mockPlans) GetOrCreate(ctx context.Context, tenantID string) (*types.Plan, error) {
	return m.getOrCreateFn(ctx, tenantID)
}

type mockWebhook struct {
	handleFn func(ctx context.Context, payload []byte, signatureHeader string) (*billing.WebhookResult, error)
}

func (m *mockWebhook) Handle(ctx context.Context, payload []byte, signatureHeader string) (*billing.WebhookResult, error) {
	return m.handleFn(ctx, payload, signatureHeader)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testValidator() *core.Validator {
	return core.NewValidator(discardLogger())
}

// newRequest builds a request scoped to tenant, as the auth middleware would.
// An empty tenant leaves the context unauthenticated.
func newRequest(method, target string, body any, tenant string) *http.Request {
	var reader io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req = req.WithContext(types.WithActor(req.Context(), types.Actor{
			ID:       "gateway",
			Type:     types.ActorTypeService,
			TenantID: tenant,
		}))
	}
	return req
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) core.ErrorDetail {
	t.Helper()
	var env core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}
