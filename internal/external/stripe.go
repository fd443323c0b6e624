package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"planguard/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

// StripeGatewayConfig holds the configuration for creating a StripeGateway.
type StripeGatewayConfig struct {
	SecretKey       types.SecretString
	BaseURL         string // overridable in tests; defaults to stripeAPIBase
	Prices          PriceCatalog
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
	Logger          *slog.Logger
}

// StripeGateway implements the billing PaymentGateway with direct HTTP calls
// to the Stripe REST API through BaseClient.
type StripeGateway struct {
	base   *BaseClient
	cfg    StripeGatewayConfig
	logger *slog.Logger
}

// NewStripeGateway creates a StripeGateway with the default retry policy
// (three attempts). The httpClient timeout bounds each attempt.
func NewStripeGateway(httpClient *http.Client, cfg StripeGatewayConfig) *StripeGateway {
	base := NewBaseClient(httpClient, "stripe", DefaultRetryPolicy(), "planguard/1.0")
	return NewStripeGatewayWithBase(base, cfg)
}

// NewStripeGatewayWithBase creates a StripeGateway on a pre-configured
// BaseClient.
func NewStripeGatewayWithBase(base *BaseClient, cfg StripeGatewayConfig) *StripeGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = stripeAPIBase
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeGateway{base: base, cfg: cfg, logger: logger}
}

// CreateCheckoutSession creates a subscription-mode Checkout Session. The
// tenant id travels as client_reference_id and in both session and
// subscription metadata so every later webhook can be correlated.
func (s *StripeGateway) CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error) {
	priceID, ok := s.cfg.Prices.PriceFor(req.Tier)
	if !ok {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidTier,
			fmt.Sprintf("no price configured for tier %q", req.Tier),
			nil,
		)
	}

	params := url.Values{}
	params.Set("mode", "subscription")
	params.Set("client_reference_id", req.TenantID)
	params.Set("success_url", s.cfg.SuccessURL)
	params.Set("cancel_url", s.cfg.CancelURL)
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")
	params.Set("metadata[tenant_id]", req.TenantID)
	params.Set("metadata[tier]", string(req.Tier))
	params.Set("subscription_data[metadata][tenant_id]", req.TenantID)
	params.Set("subscription_data[metadata][tier]", string(req.Tier))
	if req.CustomerID != "" {
		params.Set("customer", req.CustomerID)
	}

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return &types.CheckoutSession{SessionID: session.ID, RedirectURL: session.URL}, nil
}

// CreatePortalSession creates a Billing Portal session for customerID.
func (s *StripeGateway) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("return_url", s.cfg.PortalReturnURL)

	resp, err := s.doPost(ctx, "/v1/billing_portal/sessions", params, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreatePortalSession")
	}

	var session stripeSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe portal session response",
			err,
		)
	}
	return session.URL, nil
}

// doPost performs an authenticated form-encoded POST. Transport failures come
// back from BaseClient already mapped to AppErrors.
func (s *StripeGateway) doPost(ctx context.Context, path string, params url.Values, idempotencyKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build Stripe request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.cfg.SecretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := s.base.Do(req)
	s.logger.DebugContext(ctx, "stripe request",
		"path", path,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
	return resp, err
}

// stripeErrorResponse is the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse maps a non-200 Stripe response to an AppError. 4xx
// responses are explicit rejections and never retryable.
func (s *StripeGateway) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamGatewayRejected,
			fmt.Sprintf("%s: Stripe returned status %d and the body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamGatewayRejected,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamGatewayRejected,
		fmt.Sprintf("%s: Stripe rejected the request (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
		nil,
		map[string]any{
			"status":      resp.StatusCode,
			"stripe_type": stripeErr.Error.Type,
			"stripe_code": stripeErr.Error.Code,
			"param":       stripeErr.Error.Param,
		},
	)
}

type stripeSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PriceCatalog maps paid tiers to Stripe Price IDs and back.
type PriceCatalog map[types.PlanTier]string

// PriceFor returns the Price ID for a paid tier.
func (c PriceCatalog) PriceFor(tier types.PlanTier) (string, bool) {
	if !tier.IsPaid() {
		return "", false
	}
	id, ok := c[tier]
	return id, ok && id != ""
}

// TierFor returns the tier sold under priceID.
func (c PriceCatalog) TierFor(priceID string) (types.PlanTier, bool) {
	for tier, id := range c {
		if id == priceID && priceID != "" {
			return tier, true
		}
	}
	return "", false
}
