package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"planguard/internal/types"
)

// LedgerRepo is the processed_events table. The primary key on
// external_event_id makes Record insert-once.
type LedgerRepo struct {
	db DBTX
}

// NewLedgerRepo creates a LedgerRepo.
func NewLedgerRepo(db DBTX) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// Lookup returns the entry for externalEventID, if present.
func (r *LedgerRepo) Lookup(ctx context.Context, externalEventID string) (*types.ProcessedEvent, bool, error) {
	var e types.ProcessedEvent
	err := r.db.QueryRow(ctx,
		`SELECT external_event_id, event_type, tenant_id, applied_version, outcome, processed_at
		 FROM processed_events
		 WHERE external_event_id = $1`,
		externalEventID,
	).Scan(&e.ExternalEventID, &e.EventType, &e.TenantID, &e.AppliedVersion, &e.Outcome, &e.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to look up processed event", err)
	}
	return &e, true, nil
}

// Record inserts entry and reports whether this call created the row.
func (r *LedgerRepo) Record(ctx context.Context, entry types.ProcessedEvent) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO processed_events
		   (external_event_id, event_type, tenant_id, applied_version, outcome, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (external_event_id) DO NOTHING`,
		entry.ExternalEventID,
		entry.EventType,
		entry.TenantID,
		entry.AppliedVersion,
		entry.Outcome,
		entry.ProcessedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record processed event", err)
	}
	return tag.RowsAffected() == 1, nil
}
