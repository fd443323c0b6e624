package billing

import (
	"context"

	"planguard/internal/types"
)

// PlanStore persists one Plan per tenant.
type PlanStore interface {
	// GetOrCreate returns the tenant's plan, creating the Free plan on first
	// access.
	GetOrCreate(ctx context.Context, tenantID string) (*types.Plan, error)

	// Update runs fn with exclusive access to the tenant's plan. Calls for the
	// same tenant are serialized; different tenants proceed in parallel. If fn
	// returns a non-nil plan it replaces the stored one atomically; a nil plan
	// leaves storage untouched.
	Update(ctx context.Context, tenantID string, fn func(current *types.Plan) (*types.Plan, error)) error
}

// UsageStore persists per-period counters.
type UsageStore interface {
	// Consume adds amount to the counter at key if the result stays within
	// limit. The check and increment are a single atomic step per key. When
	// the limit would be exceeded it returns the unchanged count and false.
	Consume(ctx context.Context, key types.UsageKey, amount int64, limit types.Limit) (count int64, allowed bool, err error)

	// Release subtracts amount from the counter at key, never going below zero.
	Release(ctx context.Context, key types.UsageKey, amount int64) (int64, error)

	// Counts returns every counter for the tenant's period. Missing kinds are
	// absent from the map.
	Counts(ctx context.Context, tenantID string, period types.PeriodKey) (map[types.ResourceKind]int64, error)
}

// EventLedger records processed gateway events.
type EventLedger interface {
	// Lookup returns the ledger entry for the event, if any.
	Lookup(ctx context.Context, externalEventID string) (*types.ProcessedEvent, bool, error)

	// Record inserts the entry unless one already exists for the same event
	// id. It reports whether this call inserted it. Existing entries are never
	// overwritten.
	Record(ctx context.Context, entry types.ProcessedEvent) (bool, error)
}

// PaymentGateway is the outbound boundary to the payment processor.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID string) (string, error)
}

// SignatureVerifier authenticates raw webhook payloads.
type SignatureVerifier interface {
	Verify(payload []byte, signatureHeader string) error
}

// EventDecoder turns a verified payload into a WebhookEvent.
type EventDecoder interface {
	Decode(payload []byte) (*types.WebhookEvent, error)
}

// PlanEventPublisher notifies downstream collaborators of applied plan changes.
type PlanEventPublisher interface {
	PublishPlanChanged(ctx context.Context, msg types.PlanChangedMessage) error
}

// Recorder receives engine metrics.
type Recorder interface {
	QuotaDecision(kind types.ResourceKind, tier types.PlanTier, allowed bool)
	WebhookProcessed(gatewayType string, outcome types.ApplyOutcome, alreadyProcessed bool)
	GatewayCall(operation string, err error)
}

// NopRecorder discards metrics.
type NopRecorder struct{}

func (NopRecorder) QuotaDecision(types.ResourceKind, types.PlanTier, bool) {}
func (NopRecorder) WebhookProcessed(string, types.ApplyOutcome, bool)      {}
func (NopRecorder) GatewayCall(string, error)                              {}

// NopPublisher drops plan change notifications.
type NopPublisher struct{}

func (NopPublisher) PublishPlanChanged(context.Context, types.PlanChangedMessage) error { return nil }
