package billing

import (
	"context"
	"log/slog"

	"planguard/internal/types"
)

// PortalLinkIssuer requests self-service billing portal links.
type PortalLinkIssuer struct {
	plans    PlanStore
	gateway  PaymentGateway
	recorder Recorder
	logger   *slog.Logger
}

// NewPortalLinkIssuer creates a PortalLinkIssuer.
func NewPortalLinkIssuer(plans PlanStore, gateway PaymentGateway, recorder Recorder, logger *slog.Logger) *PortalLinkIssuer {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &PortalLinkIssuer{plans: plans, gateway: gateway, recorder: recorder, logger: logger}
}

// GetPortalURL returns a portal link for the tenant's gateway customer.
// Tenants that never completed a checkout have no customer record.
func (i *PortalLinkIssuer) GetPortalURL(ctx context.Context, tenantID string) (string, error) {
	if tenantID == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "tenant id is required", nil)
	}

	plan, err := i.plans.GetOrCreate(ctx, tenantID)
	if err != nil {
		return "", err
	}
	customerID := plan.CustomerID()
	if customerID == "" {
		return "", types.NewAppError(types.ErrCodeNotFoundCustomer,
			"tenant has no billing customer record; complete a checkout first", nil)
	}

	url, err := i.gateway.CreatePortalSession(ctx, customerID)
	i.recorder.GatewayCall("portal", err)
	if err != nil {
		err = gatewayError(ctx, "portal", err)
		i.logger.ErrorContext(ctx, "portal session creation failed",
			"tenant_id", tenantID,
			"retryable", types.IsRetryable(err),
			"error", err,
		)
		return "", err
	}
	return url, nil
}
