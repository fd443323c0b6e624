package external

import "planguard/internal/billing"

// Stripe event types the decoder maps to plan lifecycle events. Anything else
// decodes to types.EventUnknown.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeInvoicePaid       = "invoice.paid"
	EventStripePaymentSucceeded  = "invoice.payment_succeeded"
	EventStripePaymentFailed     = "invoice.payment_failed"
	EventStripeSubUpdated        = "customer.subscription.updated"
	EventStripeSubDeleted        = "customer.subscription.deleted"
)

// Compile-time checks that the Stripe adapters satisfy the billing ports.
var (
	_ billing.PaymentGateway    = (*StripeGateway)(nil)
	_ billing.SignatureVerifier = (*StripeVerifier)(nil)
	_ billing.EventDecoder      = (*StripeEventDecoder)(nil)
)
