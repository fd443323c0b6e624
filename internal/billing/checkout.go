package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"planguard/internal/types"
)

// DefaultIdempotencyWindow is the coarse time bucket used for checkout tokens.
const DefaultIdempotencyWindow = 10 * time.Minute

// idempotencyNamespace scopes checkout tokens so they never collide with other
// UUIDv5 values derived from the same inputs.
var idempotencyNamespace = uuid.MustParse("6f0b8a4e-93c5-4f43-9d0e-2b8a1f6c7d52")

// IdempotencyToken derives the gateway idempotency key for a checkout request.
// Repeating the same tenant and tier within one window yields the same key.
func IdempotencyToken(tenantID string, tier types.PlanTier, at time.Time, window time.Duration) string {
	bucket := at.UTC().Truncate(window).Unix()
	name := fmt.Sprintf("checkout|%s|%s|%d", tenantID, tier, bucket)
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}

// CheckoutOrchestrator creates gateway checkout sessions for upgrades. It
// never writes plan state; plans change only when the resulting
// CheckoutCompleted event arrives through the webhook path.
type CheckoutOrchestrator struct {
	plans    PlanStore
	gateway  PaymentGateway
	recorder Recorder
	logger   *slog.Logger
	window   time.Duration
	now      func() time.Time
}

// NewCheckoutOrchestrator creates a CheckoutOrchestrator. A non-positive
// window falls back to DefaultIdempotencyWindow.
func NewCheckoutOrchestrator(plans PlanStore, gateway PaymentGateway, window time.Duration, recorder Recorder, logger *slog.Logger) *CheckoutOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if window <= 0 {
		window = DefaultIdempotencyWindow
	}
	return &CheckoutOrchestrator{
		plans:    plans,
		gateway:  gateway,
		recorder: recorder,
		logger:   logger,
		window:   window,
		now:      time.Now,
	}
}

// CreateSession starts a checkout for tier. Transient gateway failures are
// retried by the gateway client; what reaches the caller carries a retry hint
// via types.IsRetryable.
func (o *CheckoutOrchestrator) CreateSession(ctx context.Context, tenantID string, tier types.PlanTier) (*types.CheckoutSession, error) {
	if tenantID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "tenant id is required", nil)
	}
	if !tier.IsPaid() {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidTier,
			fmt.Sprintf("tier %q cannot be purchased", tier), nil,
			map[string]any{"allowed": []types.PlanTier{types.PlanStandard, types.PlanPremium}})
	}

	plan, err := o.plans.GetOrCreate(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if plan.Tier.IsPaid() && plan.Status != types.SubStatusCanceled {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictSubscriptionExists,
			"tenant already has a paid subscription; use the billing portal to change plans", nil,
			map[string]any{"tier": plan.Tier, "status": plan.Status})
	}

	req := types.CheckoutRequest{
		TenantID:       tenantID,
		Tier:           tier,
		CustomerID:     plan.CustomerID(),
		IdempotencyKey: IdempotencyToken(tenantID, tier, o.now(), o.window),
	}

	session, err := o.gateway.CreateCheckoutSession(ctx, req)
	o.recorder.GatewayCall("checkout", err)
	if err != nil {
		err = gatewayError(ctx, "checkout", err)
		o.logger.ErrorContext(ctx, "checkout session creation failed",
			"tenant_id", tenantID,
			"tier", tier,
			"retryable", types.IsRetryable(err),
			"error", err,
		)
		return nil, err
	}

	o.logger.InfoContext(ctx, "checkout session created",
		"tenant_id", tenantID,
		"tier", tier,
		"session_id", session.SessionID,
	)
	return session, nil
}

// gatewayError normalizes outbound failures. Cancellation and deadline
// expiry are retryable; untyped errors are treated as transient transport
// failures.
func gatewayError(ctx context.Context, operation string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamTimeout,
			operation+": payment gateway call did not complete", err,
			map[string]any{"retryable": true})
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.WithDetails(map[string]any{"retryable": appErr.Code.Retryable()})
	}

	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable,
		operation+": payment gateway request failed", err,
		map[string]any{"retryable": true})
}
