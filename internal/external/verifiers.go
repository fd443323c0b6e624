package external

import (
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"planguard/internal/types"
)

// StripeVerifier checks the Stripe-Signature header (HMAC-SHA256 over
// "timestamp.payload") using stripe-go's webhook package.
type StripeVerifier struct {
	secret    types.SecretString
	tolerance time.Duration
}

// NewStripeVerifier creates a verifier for the endpoint signing secret.
// A non-positive tolerance falls back to webhook.DefaultTolerance.
func NewStripeVerifier(secret types.SecretString, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

// Verify returns nil when header carries a valid signature for payload that is
// no older than the configured tolerance.
func (v *StripeVerifier) Verify(payload []byte, header string) error {
	return webhook.ValidatePayloadWithTolerance(payload, header, v.secret.Unmask(), v.tolerance)
}
