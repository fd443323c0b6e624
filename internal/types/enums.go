package types

// PlanTier identifies the subscription level that determines quota limits.
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanStandard PlanTier = "standard"
	PlanPremium  PlanTier = "premium"
)

// IsValid reports whether the tier is one of the recognized tiers.
func (t PlanTier) IsValid() bool {
	switch t {
	case PlanFree, PlanStandard, PlanPremium:
		return true
	}
	return false
}

// IsPaid reports whether the tier can be purchased through checkout.
func (t PlanTier) IsPaid() bool {
	return t == PlanStandard || t == PlanPremium
}

// SubscriptionStatus is the billing status of a tenant's plan.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// ResourceKind names a quota-governed resource. The set is closed.
type ResourceKind string

const (
	ResourceProducts ResourceKind = "products"
	ResourceAds      ResourceKind = "ads"
	ResourceQuotes   ResourceKind = "quotes"
)

// AllResourceKinds lists every recognized kind in display order.
var AllResourceKinds = []ResourceKind{ResourceProducts, ResourceAds, ResourceQuotes}

// IsValid reports whether the kind is part of the enumerated set.
func (k ResourceKind) IsValid() bool {
	switch k {
	case ResourceProducts, ResourceAds, ResourceQuotes:
		return true
	}
	return false
}

// LifecycleEventType identifies a plan lifecycle event understood by the
// state machine. Gateway-specific event names are mapped onto these.
type LifecycleEventType string

const (
	EventCheckoutCompleted       LifecycleEventType = "checkout_completed"
	EventInvoicePaymentFailed    LifecycleEventType = "invoice_payment_failed"
	EventInvoicePaymentSucceeded LifecycleEventType = "invoice_payment_succeeded"
	EventSubscriptionCanceled    LifecycleEventType = "subscription_canceled"
	EventSubscriptionUpdated     LifecycleEventType = "subscription_updated"
	// EventUnknown marks gateway events with no lifecycle meaning.
	EventUnknown LifecycleEventType = "unknown"
)

// ApplyOutcome is the result of feeding a lifecycle event to the plan
// state machine.
type ApplyOutcome string

const (
	OutcomeApplied           ApplyOutcome = "applied"
	OutcomeStale             ApplyOutcome = "stale"
	OutcomeInvalidTransition ApplyOutcome = "invalid_transition"
	// OutcomeIgnored is recorded for events that never reach the state machine.
	OutcomeIgnored ApplyOutcome = "ignored"
)
