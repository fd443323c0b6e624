package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"planguard/internal/billing"
	"planguard/internal/core"
	"planguard/internal/types"
)

// maxWebhookBodySize caps gateway webhook payloads.
const maxWebhookBodySize = 64 * 1024

// StripeSignatureHeader carries the gateway's payload signature.
const StripeSignatureHeader = "Stripe-Signature"

// WebhookService processes a raw, signed gateway delivery.
type WebhookService interface {
	Handle(ctx context.Context, payload []byte, signatureHeader string) (*billing.WebhookResult, error)
}

// StripeWebhookHandler receives gateway events. It sits outside the service
// token auth; the payload signature is its authentication.
type StripeWebhookHandler struct {
	processor WebhookService
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(processor WebhookService, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{processor: processor, logger: logger}
}

// RegisterRoutes mounts POST /webhooks/stripe on a public router.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle returns 200 for every accepted delivery, duplicates included, so the
// gateway stops redelivering. Signature and payload failures are 400; storage
// failures are 5xx so the gateway retries.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		msg := "failed to read request body"
		if errors.As(err, &maxBytesErr) {
			msg = "webhook payload exceeds 64KB"
		}
		h.logger.WarnContext(r.Context(), "webhook body rejected", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody, msg, err))
		return
	}

	result, err := h.processor.Handle(r.Context(), payload, r.Header.Get(StripeSignatureHeader))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, result)
}
