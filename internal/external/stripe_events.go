package external

import (
	"encoding/json"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"

	"planguard/internal/types"
)

// StripeEventDecoder turns a verified Stripe event payload into a
// types.WebhookEvent. It decodes only the envelope through stripe.Event and
// reads the handful of object fields it needs itself, so events from newer
// API versions still decode.
type StripeEventDecoder struct {
	prices PriceCatalog
}

// NewStripeEventDecoder creates a decoder. prices is used to recover the tier
// from subscription items when metadata.tier is absent; it may be nil.
func NewStripeEventDecoder(prices PriceCatalog) *StripeEventDecoder {
	return &StripeEventDecoder{prices: prices}
}

// stripeObject holds the fields read from checkout sessions, invoices and
// subscriptions. Which ones are populated depends on the event type.
type stripeObject struct {
	ID                  string            `json:"id"`
	ClientReferenceID   string            `json:"client_reference_id"`
	Customer            expandableID      `json:"customer"`
	Subscription        expandableID      `json:"subscription"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription expandableID      `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Items *struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// expandableID accepts either a bare id string or an expanded object with an
// "id" field.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

// Decode parses payload. Unknown event types decode successfully with
// types.EventUnknown; known types missing a tenant are rejected.
func (d *StripeEventDecoder) Decode(payload []byte) (*types.WebhookEvent, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, malformed("invalid event JSON", err)
	}
	if evt.ID == "" || evt.Type == "" {
		return nil, malformed("event id and type are required", nil)
	}
	if evt.Created <= 0 {
		return nil, malformed("event created timestamp is required", nil)
	}

	out := &types.WebhookEvent{
		ExternalEventID: evt.ID,
		GatewayType:     string(evt.Type),
		Version:         evt.Created,
		Event:           types.PlanEvent{Type: types.EventUnknown},
	}

	eventType := lifecycleType(string(evt.Type))
	if eventType == types.EventUnknown {
		return out, nil
	}

	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, malformed("event data object is missing", nil)
	}
	var obj stripeObject
	if err := json.Unmarshal(evt.Data.Raw, &obj); err != nil {
		return nil, malformed("invalid event data object", err)
	}

	meta := obj.metadata()
	out.TenantID = obj.ClientReferenceID
	if out.TenantID == "" {
		out.TenantID = meta["tenant_id"]
	}
	if out.TenantID == "" {
		return nil, malformed(fmt.Sprintf("%s: no tenant reference", evt.Type), nil)
	}

	pe := types.PlanEvent{
		Type:       eventType,
		CustomerID: string(obj.Customer),
	}

	switch eventType {
	case types.EventCheckoutCompleted:
		pe.Tier = types.PlanTier(meta["tier"])
		if !pe.Tier.IsPaid() {
			return nil, malformed(fmt.Sprintf("checkout completed with invalid tier %q", meta["tier"]), nil)
		}
		pe.SubscriptionID = string(obj.Subscription)

	case types.EventSubscriptionUpdated, types.EventSubscriptionCanceled:
		pe.SubscriptionID = obj.ID
		if eventType == types.EventSubscriptionUpdated {
			pe.Tier = d.subscriptionTier(meta, obj)
			if !pe.Tier.IsPaid() {
				// An update that does not carry a tier (quantity, payment
				// method, etc.) has no plan effect.
				pe = types.PlanEvent{Type: types.EventUnknown}
			}
		}

	default:
		pe.SubscriptionID = obj.invoiceSubscription()
	}

	out.Event = pe
	return out, nil
}

// subscriptionTier prefers the subscribed price. Metadata is written once at
// checkout and goes stale when the customer switches plans in the portal.
func (d *StripeEventDecoder) subscriptionTier(meta map[string]string, obj stripeObject) types.PlanTier {
	if obj.Items != nil && len(obj.Items.Data) > 0 {
		if tier, ok := d.prices.TierFor(obj.Items.Data[0].Price.ID); ok {
			return tier
		}
	}
	if tier := types.PlanTier(meta["tier"]); tier.IsPaid() {
		return tier
	}
	return ""
}

// metadata returns the first non-empty metadata map. Invoices carry the
// subscription's metadata under parent.subscription_details (newer API
// versions) or subscription_details (older).
func (o stripeObject) metadata() map[string]string {
	if len(o.Metadata) > 0 {
		return o.Metadata
	}
	if o.Parent != nil && o.Parent.SubscriptionDetails != nil && len(o.Parent.SubscriptionDetails.Metadata) > 0 {
		return o.Parent.SubscriptionDetails.Metadata
	}
	if o.SubscriptionDetails != nil && len(o.SubscriptionDetails.Metadata) > 0 {
		return o.SubscriptionDetails.Metadata
	}
	return map[string]string{}
}

func (o stripeObject) invoiceSubscription() string {
	if o.Subscription != "" {
		return string(o.Subscription)
	}
	if o.Parent != nil && o.Parent.SubscriptionDetails != nil {
		return string(o.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

func lifecycleType(gatewayType string) types.LifecycleEventType {
	switch gatewayType {
	case EventStripeCheckoutCompleted:
		return types.EventCheckoutCompleted
	case EventStripeInvoicePaid, EventStripePaymentSucceeded:
		return types.EventInvoicePaymentSucceeded
	case EventStripePaymentFailed:
		return types.EventInvoicePaymentFailed
	case EventStripeSubDeleted:
		return types.EventSubscriptionCanceled
	case EventStripeSubUpdated:
		return types.EventSubscriptionUpdated
	default:
		return types.EventUnknown
	}
}

func malformed(msg string, err error) error {
	return types.NewAppError(types.ErrCodeValidationWebhookPayload, msg, err)
}
