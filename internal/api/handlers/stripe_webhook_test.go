package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planguard/internal/billing"
	"planguard/internal/types"
)

func TestStripeWebhookHandler_Handle(t *testing.T) {
	const payload = `{"id":"evt_1","type":"checkout.session.completed"}`

	t.Run("accepted", func(t *testing.T) {
		processor := &mockWebhook{
			handleFn: func(_ context.Context, body []byte, sig string) (*billing.WebhookResult, error) {
				assert.Equal(t, payload, string(body))
				assert.Equal(t, "t=1,v1=abc", sig)
				return &billing.WebhookResult{Accepted: true, EventID: "evt_1", Outcome: types.OutcomeApplied}, nil
			},
		}
		h := NewStripeWebhookHandler(processor, discardLogger())

		req := newRequest(http.MethodPost, "/webhooks/stripe", payload, "")
		req.Header.Set(StripeSignatureHeader, "t=1,v1=abc")
		rec := httptest.NewRecorder()
		h.Handle(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var got billing.WebhookResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.Accepted)
		assert.Equal(t, types.OutcomeApplied, got.Outcome)
	})

	t.Run("duplicate is still 200", func(t *testing.T) {
		processor := &mockWebhook{
			handleFn: func(context.Context, []byte, string) (*billing.WebhookResult, error) {
				return &billing.WebhookResult{Accepted: true, AlreadyProcessed: true, EventID: "evt_1", Outcome: types.OutcomeApplied}, nil
			},
		}
		h := NewStripeWebhookHandler(processor, nil)

		rec := httptest.NewRecorder()
		h.Handle(rec, newRequest(http.MethodPost, "/webhooks/stripe", payload, ""))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"already_processed":true`)
	})

	t.Run("bad signature", func(t *testing.T) {
		processor := &mockWebhook{
			handleFn: func(context.Context, []byte, string) (*billing.WebhookResult, error) {
				return nil, types.NewAppError(types.ErrCodeValidationWebhookSig, "webhook signature verification failed", nil)
			},
		}
		h := NewStripeWebhookHandler(processor, nil)

		rec := httptest.NewRecorder()
		h.Handle(rec, newRequest(http.MethodPost, "/webhooks/stripe", payload, ""))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(types.ErrCodeValidationWebhookSig), decodeError(t, rec).Code)
	})

	t.Run("storage failure asks for redelivery", func(t *testing.T) {
		processor := &mockWebhook{
			handleFn: func(context.Context, []byte, string) (*billing.WebhookResult, error) {
				return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to record event", nil)
			},
		}
		h := NewStripeWebhookHandler(processor, nil)

		rec := httptest.NewRecorder()
		h.Handle(rec, newRequest(http.MethodPost, "/webhooks/stripe", payload, ""))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		called := false
		processor := &mockWebhook{
			handleFn: func(context.Context, []byte, string) (*billing.WebhookResult, error) {
				called = true
				return nil, nil
			},
		}
		h := NewStripeWebhookHandler(processor, nil)

		big := `{"pad":"` + strings.Repeat("x", maxWebhookBodySize) + `"}`
		rec := httptest.NewRecorder()
		h.Handle(rec, newRequest(http.MethodPost, "/webhooks/stripe", big, ""))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		detail := decodeError(t, rec)
		assert.Equal(t, string(types.ErrCodeValidationInvalidBody), detail.Code)
		assert.Contains(t, detail.Message, "64KB")
		assert.False(t, called)
	})
}
