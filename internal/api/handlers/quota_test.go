package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planguard/internal/billing"
	"planguard/internal/types"
)

func TestQuotaHandler_Consume(t *testing.T) {
	tests := []struct {
		name       string
		tenant     string
		body       any
		result     *billing.ConsumeResult
		err        error
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{
			name:   "allowed",
			tenant: "t-1",
			body:   ConsumeRequest{Kind: types.ResourceAds, Amount: 2},
			result: &billing.ConsumeResult{
				Allowed: true, NewCount: 5, Limit: 20,
				Kind:    types.ResourceAds, Tier: types.PlanFree, Period: "2026-10",
			},
			wantStatus: http.StatusOK,
		},
		{
			name:   "quota exceeded",
			tenant: "t-1",
			body:   ConsumeRequest{Kind: types.ResourceProducts, Amount: 1},
			result: &billing.ConsumeResult{
				Allowed: false, NewCount: 10, Limit: 10,
				Kind:    types.ResourceProducts, Tier: types.PlanFree, Period: "2026-10",
			},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   types.ErrCodeLimitQuotaExceeded,
		},
		{
			name:       "unknown kind",
			tenant:     "t-1",
			body:       `{"kind":"invoices","amount":1}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeValidationInvalidKind,
		},
		{
			name:       "zero amount",
			tenant:     "t-1",
			body:       `{"kind":"ads","amount":0}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeValidationInvalidAmount,
		},
		{
			name:       "unknown field",
			tenant:     "t-1",
			body:       `{"kind":"ads","amount":1,"tenant_id":"other"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeValidationInvalidBody,
		},
		{
			name:       "malformed json",
			tenant:     "t-1",
			body:       `{"kind":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrCodeValidationInvalidBody,
		},
		{
			name:       "no tenant in context",
			body:       ConsumeRequest{Kind: types.ResourceAds, Amount: 1},
			wantStatus: http.StatusUnauthorized,
			wantCode:   types.ErrCodeAuthTenantMissing,
		},
		{
			name:       "store failure",
			tenant:     "t-1",
			body:       ConsumeRequest{Kind: types.ResourceAds, Amount: 1},
			err:        types.NewAppError(types.ErrCodeInternalDB, "usage store unavailable", errors.New("conn reset")),
			wantStatus: http.StatusInternalServerError,
			wantCode:   types.ErrCodeInternalDB,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			quota := &mockQuota{
				tryConsumeFn: func(_ context.Context, tenantID string, kind types.ResourceKind, amount int64) (*billing.ConsumeResult, error) {
					calls++
					assert.Equal(t, tt.tenant, tenantID)
					return tt.result, tt.err
				},
			}
			h := NewQuotaHandler(quota, testValidator(), discardLogger())

			rec := httptest.NewRecorder()
			h.Consume(rec, newRequest(http.MethodPost, "/v1/quota/consume", tt.body, tt.tenant))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode == "" {
				var got billing.ConsumeResult
				decodeData(t, rec, &got)
				assert.Equal(t, *tt.result, got)
				return
			}
			assert.Equal(t, string(tt.wantCode), decodeError(t, rec).Code)
			if tt.result == nil && tt.err == nil {
				assert.Zero(t, calls, "gate must not be called for rejected input")
			}
		})
	}
}

func TestQuotaHandler_Consume_ExceededDetails(t *testing.T) {
	quota := &mockQuota{
		tryConsumeFn: func(context.Context, string, types.ResourceKind, int64) (*billing.ConsumeResult, error) {
			return &billing.ConsumeResult{
				Allowed: false, NewCount: 3, Limit: 3,
				Kind:    types.ResourceQuotes, Tier: types.PlanStandard, Period: "2026-10",
			}, nil
		},
	}
	h := NewQuotaHandler(quota, testValidator(), nil)

	rec := httptest.NewRecorder()
	h.Consume(rec, newRequest(http.MethodPost, "/v1/quota/consume",
		ConsumeRequest{Kind: types.ResourceQuotes, Amount: 1}, "t-9"))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))

	detail := decodeError(t, rec)
	assert.Equal(t, "quotes", detail.Details["kind"])
	assert.Equal(t, float64(3), detail.Details["count"])
	assert.Equal(t, float64(3), detail.Details["limit"])
	assert.Equal(t, "standard", detail.Details["tier"])
	assert.Equal(t, "2026-10", detail.Details["period"])
}

func TestQuotaHandler_Release(t *testing.T) {
	t.Run("current period", func(t *testing.T) {
		quota := &mockQuota{
			releaseFn: func(_ context.Context, tenantID string, kind types.ResourceKind, amount int64) (int64, error) {
				assert.Equal(t, "t-1", tenantID)
				assert.Equal(t, types.ResourceAds, kind)
				assert.Equal(t, int64(2), amount)
				return 4, nil
			},
		}
		h := NewQuotaHandler(quota, testValidator(), nil)

		rec := httptest.NewRecorder()
		h.Release(rec, newRequest(http.MethodPost, "/v1/quota/release",
			ReleaseRequest{Kind: types.ResourceAds, Amount: 2}, "t-1"))

		require.Equal(t, http.StatusOK, rec.Code)
		var got ReleaseResponse
		decodeData(t, rec, &got)
		assert.Equal(t, int64(4), got.NewCount)
	})

	t.Run("explicit period", func(t *testing.T) {
		quota := &mockQuota{
			releaseFromPeriodFn: func(_ context.Context, _ string, _ types.ResourceKind, period types.PeriodKey, _ int64) (int64, error) {
				assert.Equal(t, types.PeriodKey("2026-10"), period)
				return 0, nil
			},
		}
		h := NewQuotaHandler(quota, testValidator(), nil)

		rec := httptest.NewRecorder()
		h.Release(rec, newRequest(http.MethodPost, "/v1/quota/release",
			ReleaseRequest{Kind: types.ResourceAds, Amount: 1, Period: "2026-10"}, "t-1"))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("closed period", func(t *testing.T) {
		quota := &mockQuota{
			releaseFromPeriodFn: func(context.Context, string, types.ResourceKind, types.PeriodKey, int64) (int64, error) {
				return 0, types.NewAppError(types.ErrCodeConflictPeriodClosed, "period 2026-09 is closed", nil)
			},
		}
		h := NewQuotaHandler(quota, testValidator(), nil)

		rec := httptest.NewRecorder()
		h.Release(rec, newRequest(http.MethodPost, "/v1/quota/release",
			ReleaseRequest{Kind: types.ResourceAds, Amount: 1, Period: "2026-09"}, "t-1"))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, string(types.ErrCodeConflictPeriodClosed), decodeError(t, rec).Code)
	})

	t.Run("malformed period", func(t *testing.T) {
		h := NewQuotaHandler(&mockQuota{}, testValidator(), nil)

		rec := httptest.NewRecorder()
		h.Release(rec, newRequest(http.MethodPost, "/v1/quota/release",
			`{"kind":"ads","amount":1,"period":"October"}`, "t-1"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(types.ErrCodeValidationInvalidPeriod), decodeError(t, rec).Code)
	})
}
