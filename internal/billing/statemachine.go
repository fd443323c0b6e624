package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"planguard/internal/types"
)

// ApplyResult reports what Apply did and the plan as it stands afterwards.
type ApplyResult struct {
	Outcome types.ApplyOutcome
	Plan    *types.Plan
}

// PlanStateMachine applies lifecycle events to tenant plans. It is the only
// writer of plan state.
type PlanStateMachine struct {
	plans     PlanStore
	publisher PlanEventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewPlanStateMachine creates a PlanStateMachine. publisher may be nil.
func NewPlanStateMachine(plans PlanStore, publisher PlanEventPublisher, logger *slog.Logger) *PlanStateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &PlanStateMachine{
		plans:     plans,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Apply feeds event to the tenant's plan. Versions not newer than the plan's
// appliedVersion are Stale; transitions missing from the table are
// InvalidTransition. Neither mutates the plan.
func (m *PlanStateMachine) Apply(ctx context.Context, tenantID string, event types.PlanEvent, version int64) (*ApplyResult, error) {
	if tenantID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "tenant id is required", nil)
	}

	var (
		result = &ApplyResult{}
		before *types.Plan
	)

	err := m.plans.Update(ctx, tenantID, func(current *types.Plan) (*types.Plan, error) {
		before = current
		if version <= current.AppliedVersion {
			result.Outcome = types.OutcomeStale
			result.Plan = current
			return nil, nil
		}

		next, ok := transition(current, event, m.now())
		if !ok {
			result.Outcome = types.OutcomeInvalidTransition
			result.Plan = current
			return nil, nil
		}

		next.AppliedVersion = version
		result.Outcome = types.OutcomeApplied
		result.Plan = next
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case types.OutcomeStale:
		m.logger.InfoContext(ctx, "stale plan event ignored",
			"tenant_id", tenantID,
			"event_type", event.Type,
			"version", version,
			"applied_version", before.AppliedVersion,
		)
	case types.OutcomeInvalidTransition:
		m.logger.WarnContext(ctx, "invalid plan transition",
			"tenant_id", tenantID,
			"event_type", event.Type,
			"state", stateName(before),
			"version", version,
		)
	case types.OutcomeApplied:
		m.logger.InfoContext(ctx, "plan transition applied",
			"tenant_id", tenantID,
			"event_type", event.Type,
			"from", stateName(before),
			"to", stateName(result.Plan),
			"version", version,
		)
		m.publish(ctx, before, result.Plan, event.Type)
	}

	return result, nil
}

func (m *PlanStateMachine) publish(ctx context.Context, before, after *types.Plan, eventType types.LifecycleEventType) {
	msg := types.PlanChangedMessage{
		TenantID:   after.TenantID,
		EventType:  eventType,
		FromTier:   before.Tier,
		ToTier:     after.Tier,
		FromStatus: before.Status,
		ToStatus:   after.Status,
		Version:    after.AppliedVersion,
		OccurredAt: after.UpdatedAt,
	}
	if err := m.publisher.PublishPlanChanged(ctx, msg); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish plan change",
			"tenant_id", after.TenantID,
			"event_type", eventType,
			"error", err,
		)
	}
}

// transition is the lifecycle table:
//
//	Free                     + CheckoutCompleted(t)    -> ActivePaid(t)
//	Canceled                 + CheckoutCompleted(t)    -> ActivePaid(t)
//	ActivePaid(t)            + InvoicePaymentFailed    -> PastDue(t)
//	PastDue(t)               + InvoicePaymentSucceeded -> ActivePaid(t)
//	ActivePaid(t)/PastDue(t) + SubscriptionCanceled    -> Canceled
//	ActivePaid(t)/PastDue(t) + SubscriptionUpdated(t') -> same status, tier t'
//
// It returns a new plan and true for a listed transition, or false otherwise.
func transition(current *types.Plan, event types.PlanEvent, now time.Time) (*types.Plan, bool) {
	paidLive := current.Tier.IsPaid() &&
		(current.Status == types.SubStatusActive || current.Status == types.SubStatusPastDue)

	next := current.Clone()
	next.UpdatedAt = now

	switch event.Type {
	case types.EventCheckoutCompleted:
		if !event.Tier.IsPaid() || !(isFree(current) || current.Status == types.SubStatusCanceled) {
			return nil, false
		}
		next.Tier = event.Tier
		next.Status = types.SubStatusActive
		next.CanceledAt = nil
		if event.CustomerID != "" {
			next.ExternalCustomerID = &event.CustomerID
		}
		if event.SubscriptionID != "" {
			next.ExternalSubscriptionID = &event.SubscriptionID
		}

	case types.EventInvoicePaymentFailed:
		if !current.Tier.IsPaid() || current.Status != types.SubStatusActive {
			return nil, false
		}
		next.Status = types.SubStatusPastDue

	case types.EventInvoicePaymentSucceeded:
		if !current.Tier.IsPaid() || current.Status != types.SubStatusPastDue {
			return nil, false
		}
		next.Status = types.SubStatusActive

	case types.EventSubscriptionCanceled:
		if !paidLive {
			return nil, false
		}
		next.Status = types.SubStatusCanceled
		canceledAt := now
		next.CanceledAt = &canceledAt

	case types.EventSubscriptionUpdated:
		if !paidLive || !event.Tier.IsPaid() || event.Tier == current.Tier {
			return nil, false
		}
		next.Tier = event.Tier
		if event.SubscriptionID != "" {
			next.ExternalSubscriptionID = &event.SubscriptionID
		}

	default:
		return nil, false
	}

	return next, true
}

func isFree(p *types.Plan) bool {
	return p.Tier == types.PlanFree && p.Status == types.SubStatusActive
}

// stateName renders a plan as its lifecycle state for logs.
func stateName(p *types.Plan) string {
	switch {
	case isFree(p):
		return "free"
	case p.Status == types.SubStatusActive:
		return fmt.Sprintf("active_paid(%s)", p.Tier)
	case p.Status == types.SubStatusPastDue:
		return fmt.Sprintf("past_due(%s)", p.Tier)
	case p.Status == types.SubStatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("unknown(%s/%s)", p.Tier, p.Status)
	}
}
