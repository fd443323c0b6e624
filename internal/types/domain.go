package types

import (
	"math"
	"time"
)

// Limit is a per-period quota. Unlimited disables the check entirely.
type Limit int64

// Unlimited is the sentinel limit value for tiers without a cap.
const Unlimited Limit = -1

// IsUnlimited reports whether the limit never rejects.
func (l Limit) IsUnlimited() bool {
	return l < 0
}

// Allows reports whether a counter at current may grow by amount. current
// is never negative. Growth that would overflow the counter is refused even
// for unlimited tiers.
func (l Limit) Allows(current, amount int64) bool {
	if amount > math.MaxInt64-current {
		return false
	}
	if l.IsUnlimited() {
		return true
	}
	return amount <= int64(l)-current
}

// Plan is the per-tenant subscription record. It is created lazily on first
// access with the free tier and mutated only by the plan state machine.
type Plan struct {
	TenantID               string             `json:"tenant_id" db:"tenant_id"`
	Tier                   PlanTier           `json:"tier" db:"tier"`
	Status                 SubscriptionStatus `json:"status" db:"status"`
	ExternalCustomerID     *string            `json:"external_customer_id,omitempty" db:"external_customer_id"`
	ExternalSubscriptionID *string            `json:"external_subscription_id,omitempty" db:"external_subscription_id"`
	AppliedVersion         int64              `json:"applied_version" db:"applied_version"`
	CanceledAt             *time.Time         `json:"canceled_at,omitempty" db:"canceled_at"`
	UpdatedAt              time.Time          `json:"updated_at" db:"updated_at"`
}

// NewFreePlan returns the initial plan every tenant starts with.
func NewFreePlan(tenantID string, now time.Time) *Plan {
	return &Plan{
		TenantID:  tenantID,
		Tier:      PlanFree,
		Status:    SubStatusActive,
		UpdatedAt: now,
	}
}

// EffectiveTier returns the tier whose limits apply at now. A canceled plan
// keeps its paid tier until the end of the billing period it was canceled in.
func (p *Plan) EffectiveTier(now time.Time) PlanTier {
	if p.Status != SubStatusCanceled {
		return p.Tier
	}
	if p.CanceledAt == nil || PeriodKeyFor(*p.CanceledAt) != PeriodKeyFor(now) {
		return PlanFree
	}
	return p.Tier
}

// CustomerID returns the external customer id or "" when none is recorded.
func (p *Plan) CustomerID() string {
	if p.ExternalCustomerID == nil {
		return ""
	}
	return *p.ExternalCustomerID
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (p *Plan) Clone() *Plan {
	c := *p
	if p.ExternalCustomerID != nil {
		v := *p.ExternalCustomerID
		c.ExternalCustomerID = &v
	}
	if p.ExternalSubscriptionID != nil {
		v := *p.ExternalSubscriptionID
		c.ExternalSubscriptionID = &v
	}
	if p.CanceledAt != nil {
		v := *p.CanceledAt
		c.CanceledAt = &v
	}
	return &c
}

// PeriodKey identifies a billing period as a UTC calendar month ("2026-10").
type PeriodKey string

// PeriodKeyFor returns the billing period containing t.
func PeriodKeyFor(t time.Time) PeriodKey {
	return PeriodKey(t.UTC().Format("2006-01"))
}

// IsValid reports whether the key parses as a calendar month.
func (k PeriodKey) IsValid() bool {
	_, err := time.Parse("2006-01", string(k))
	return err == nil
}

// UsageKey addresses a single counter.
type UsageKey struct {
	TenantID string
	Period   PeriodKey
	Kind     ResourceKind
}

// PlanEvent is a lifecycle event as understood by the plan state machine.
// Tier is set for checkout and subscription-update events only.
type PlanEvent struct {
	Type           LifecycleEventType
	Tier           PlanTier
	CustomerID     string
	SubscriptionID string
}

// WebhookEvent is an inbound gateway notification after decoding.
type WebhookEvent struct {
	ExternalEventID string
	GatewayType     string
	TenantID        string
	Version         int64
	Event           PlanEvent
}

// ProcessedEvent is an event ledger entry. One exists per external event id
// and it is never overwritten.
type ProcessedEvent struct {
	ExternalEventID string       `json:"external_event_id" db:"external_event_id"`
	EventType       string       `json:"event_type" db:"event_type"`
	TenantID        string       `json:"tenant_id" db:"tenant_id"`
	AppliedVersion  int64        `json:"applied_version" db:"applied_version"`
	Outcome         ApplyOutcome `json:"outcome" db:"outcome"`
	ProcessedAt     time.Time    `json:"processed_at" db:"processed_at"`
}

// PlanChangedMessage is published after a transition is applied.
type PlanChangedMessage struct {
	TenantID   string             `json:"tenant_id"`
	EventType  LifecycleEventType `json:"event_type"`
	FromTier   PlanTier           `json:"from_tier"`
	ToTier     PlanTier           `json:"to_tier"`
	FromStatus SubscriptionStatus `json:"from_status"`
	ToStatus   SubscriptionStatus `json:"to_status"`
	Version    int64              `json:"version"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// CheckoutRequest is what the orchestrator asks the gateway to create.
type CheckoutRequest struct {
	TenantID       string
	Tier           PlanTier
	CustomerID     string // empty until the tenant's first completed checkout
	IdempotencyKey string
}

// CheckoutSession is returned to the caller to redirect the user to the gateway.
type CheckoutSession struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// ResourceUsage is one row of a usage snapshot.
type ResourceUsage struct {
	Used      int64 `json:"used"`
	Limit     Limit `json:"limit"`
	Unlimited bool  `json:"unlimited"`
}

// UsageSnapshot reports the current period's counters against the tenant's
// effective limits.
type UsageSnapshot struct {
	TenantID string                         `json:"tenant_id"`
	Period   PeriodKey                      `json:"period"`
	Tier     PlanTier                       `json:"tier"`
	Status   SubscriptionStatus             `json:"status"`
	Usage    map[ResourceKind]ResourceUsage `json:"usage"`
}
