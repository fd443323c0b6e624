package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"planguard/internal/types"
)

// consumeSQL adds to a counter only while the result stays within the limit.
// When the guard fails no row is returned. A negative limit is unlimited.
const consumeSQL = `INSERT INTO usage_counters (tenant_id, period_key, resource_kind, count, updated_at)
	VALUES ($1, $2, $3, $4, NOW())
	ON CONFLICT (tenant_id, period_key, resource_kind) DO UPDATE
	SET count = usage_counters.count + EXCLUDED.count,
	    updated_at = NOW()
	WHERE $5::bigint < 0 OR usage_counters.count + EXCLUDED.count <= $5::bigint
	RETURNING count`

// UsageRepo keeps one counter row per (tenant, period, kind). Every mutation
// is a single statement, so the row lock Postgres takes for the upsert is the
// only synchronization needed.
type UsageRepo struct {
	db DBTX
}

// NewUsageRepo creates a UsageRepo.
func NewUsageRepo(db DBTX) *UsageRepo {
	return &UsageRepo{db: db}
}

// Consume implements the atomic check-and-increment.
func (r *UsageRepo) Consume(ctx context.Context, key types.UsageKey, amount int64, limit types.Limit) (int64, bool, error) {
	// Nothing can admit more than the limit in one step, so skip the
	// insert path which has no guard.
	if !limit.Allows(0, amount) {
		count, err := r.current(ctx, key)
		return count, false, err
	}

	var count int64
	err := r.db.QueryRow(ctx, consumeSQL,
		key.TenantID, key.Period, key.Kind, amount, int64(limit),
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		count, err := r.current(ctx, key)
		return count, false, err
	}
	if err != nil {
		return 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to consume usage", err)
	}
	return count, true, nil
}

// Release decrements the counter, flooring at zero. A missing row reads as 0.
func (r *UsageRepo) Release(ctx context.Context, key types.UsageKey, amount int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`UPDATE usage_counters
		 SET count = GREATEST(count - $4, 0),
		     updated_at = NOW()
		 WHERE tenant_id = $1 AND period_key = $2 AND resource_kind = $3
		 RETURNING count`,
		key.TenantID, key.Period, key.Kind, amount,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to release usage", err)
	}
	return count, nil
}

// Counts returns every counter row for the tenant's period.
func (r *UsageRepo) Counts(ctx context.Context, tenantID string, period types.PeriodKey) (map[types.ResourceKind]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT resource_kind, count
		 FROM usage_counters
		 WHERE tenant_id = $1 AND period_key = $2`,
		tenantID, period,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query usage", err)
	}
	defer rows.Close()

	out := make(map[types.ResourceKind]int64)
	for rows.Next() {
		var kind types.ResourceKind
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan usage row", err)
		}
		out[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate usage rows", err)
	}
	return out, nil
}

func (r *UsageRepo) current(ctx context.Context, key types.UsageKey) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT count FROM usage_counters
		 WHERE tenant_id = $1 AND period_key = $2 AND resource_kind = $3`,
		key.TenantID, key.Period, key.Kind,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to read usage", err)
	}
	return count, nil
}
