package billing

import (
	"context"
	"log/slog"
	"time"

	"planguard/internal/types"
)

// WebhookResult is returned for every accepted delivery, including duplicates
// and events that did not change state.
type WebhookResult struct {
	Accepted         bool               `json:"accepted"`
	AlreadyProcessed bool               `json:"already_processed"`
	EventID          string             `json:"event_id"`
	Outcome          types.ApplyOutcome `json:"outcome"`
}

// WebhookProcessor verifies, deduplicates and routes gateway events to the
// plan state machine.
type WebhookProcessor struct {
	verifier SignatureVerifier
	decoder  EventDecoder
	ledger   EventLedger
	machine  *PlanStateMachine
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewWebhookProcessor creates a WebhookProcessor. recorder and logger may be nil.
func NewWebhookProcessor(
	verifier SignatureVerifier,
	decoder EventDecoder,
	ledger EventLedger,
	machine *PlanStateMachine,
	recorder Recorder,
	logger *slog.Logger,
) *WebhookProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &WebhookProcessor{
		verifier: verifier,
		decoder:  decoder,
		ledger:   ledger,
		machine:  machine,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle processes one delivery. Signature failures and undecodable payloads
// are returned as validation AppErrors and never touch state. Everything else
// is accepted: redeliveries short-circuit on the ledger, and new events are
// applied and then recorded. A delivery whose version the plan already holds
// is not recorded, and one that loses the record to a concurrent duplicate
// reports the outcome the ledger kept.
func (p *WebhookProcessor) Handle(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	if signatureHeader == "" {
		return nil, types.NewAppError(types.ErrCodeValidationWebhookSig, "missing webhook signature header", nil)
	}
	if err := p.verifier.Verify(payload, signatureHeader); err != nil {
		p.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		return nil, types.NewAppError(types.ErrCodeValidationWebhookSig, "webhook signature verification failed", err)
	}

	event, err := p.decoder.Decode(payload)
	if err != nil {
		p.logger.WarnContext(ctx, "webhook payload rejected", "error", err)
		if types.CodeOf(err) == "" {
			err = types.NewAppError(types.ErrCodeValidationWebhookPayload, "malformed webhook payload", err)
		}
		return nil, err
	}

	log := p.logger.With(
		"event_id", event.ExternalEventID,
		"event_type", event.GatewayType,
		"tenant_id", event.TenantID,
	)

	entry, found, err := p.ledger.Lookup(ctx, event.ExternalEventID)
	if err != nil {
		return nil, err
	}
	if found {
		log.InfoContext(ctx, "duplicate webhook delivery")
		p.recorder.WebhookProcessed(event.GatewayType, entry.Outcome, true)
		return &WebhookResult{
			Accepted:         true,
			AlreadyProcessed: true,
			EventID:          event.ExternalEventID,
			Outcome:          entry.Outcome,
		}, nil
	}

	outcome := types.OutcomeIgnored
	var appliedVersion int64
	if event.Event.Type != types.EventUnknown {
		res, err := p.machine.Apply(ctx, event.TenantID, event.Event, event.Version)
		if err != nil {
			log.ErrorContext(ctx, "failed to apply plan event", "error", err)
			return nil, err
		}
		outcome = res.Outcome
		appliedVersion = res.Plan.AppliedVersion
		if outcome == types.OutcomeStale && appliedVersion == event.Version {
			// A concurrent delivery of this event applied it and owns the
			// ledger entry.
			log.InfoContext(ctx, "webhook version already applied, skipping ledger")
			p.recorder.WebhookProcessed(event.GatewayType, outcome, true)
			return &WebhookResult{
				Accepted:         true,
				AlreadyProcessed: true,
				EventID:          event.ExternalEventID,
				Outcome:          outcome,
			}, nil
		}
	} else {
		log.InfoContext(ctx, "unhandled webhook event type")
	}

	inserted, err := p.ledger.Record(ctx, types.ProcessedEvent{
		ExternalEventID: event.ExternalEventID,
		EventType:       event.GatewayType,
		TenantID:        event.TenantID,
		AppliedVersion:  appliedVersion,
		Outcome:         outcome,
		ProcessedAt:     p.now().UTC(),
	})
	if err != nil {
		// The transition is already durable; a redelivery resolves to Stale.
		log.ErrorContext(ctx, "failed to record processed event", "error", err)
		return nil, err
	}

	if !inserted {
		// A concurrent duplicate recorded first. Report what the ledger kept so
		// every delivery of this event answers the same way.
		stored, found, err := p.ledger.Lookup(ctx, event.ExternalEventID)
		if err != nil {
			return nil, err
		}
		if found {
			outcome = stored.Outcome
		}
		log.InfoContext(ctx, "webhook delivery raced a duplicate", "outcome", outcome)
	}

	p.recorder.WebhookProcessed(event.GatewayType, outcome, !inserted)
	return &WebhookResult{
		Accepted:         true,
		AlreadyProcessed: !inserted,
		EventID:          event.ExternalEventID,
		Outcome:          outcome,
	}, nil
}
