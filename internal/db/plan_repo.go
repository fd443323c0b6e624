package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"planguard/internal/types"
)

const planColumns = `tenant_id, tier, status, external_customer_id, external_subscription_id,
	applied_version, canceled_at, updated_at`

const insertFreePlanSQL = `INSERT INTO plans (tenant_id, tier, status, applied_version, updated_at)
	VALUES ($1, 'free', 'active', 0, $2)
	ON CONFLICT (tenant_id) DO NOTHING`

// PlanRepo stores one plan row per tenant. Update serializes writers with
// SELECT ... FOR UPDATE inside a transaction.
type PlanRepo struct {
	db     TxDB
	logger *slog.Logger
	now    func() time.Time
}

// NewPlanRepo creates a PlanRepo.
func NewPlanRepo(db TxDB, logger *slog.Logger) *PlanRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanRepo{db: db, logger: logger, now: time.Now}
}

// GetOrCreate returns the tenant's plan, inserting the free plan if the tenant
// has none yet.
func (r *PlanRepo) GetOrCreate(ctx context.Context, tenantID string) (*types.Plan, error) {
	if _, err := r.db.Exec(ctx, insertFreePlanSQL, tenantID, r.now().UTC()); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to initialize plan", err)
	}

	plan, err := scanPlan(r.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE tenant_id = $1`, tenantID))
	if err != nil {
		return nil, planReadError(err)
	}
	return plan, nil
}

// Update locks the tenant's row, passes a copy to fn and writes back the plan
// fn returns. A nil plan commits without writing.
func (r *PlanRepo) Update(ctx context.Context, tenantID string, fn func(*types.Plan) (*types.Plan, error)) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin plan transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, insertFreePlanSQL, tenantID, r.now().UTC()); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to initialize plan", err)
	}

	current, err := scanPlan(tx.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE tenant_id = $1 FOR UPDATE`, tenantID))
	if err != nil {
		return planReadError(err)
	}

	next, err := fn(current.Clone())
	if err != nil {
		return err
	}

	if next != nil {
		_, err = tx.Exec(ctx,
			`UPDATE plans
			 SET tier = $2,
			     status = $3,
			     external_customer_id = $4,
			     external_subscription_id = $5,
			     applied_version = $6,
			     canceled_at = $7,
			     updated_at = $8
			 WHERE tenant_id = $1`,
			tenantID,
			next.Tier,
			next.Status,
			next.ExternalCustomerID,
			next.ExternalSubscriptionID,
			next.AppliedVersion,
			next.CanceledAt,
			next.UpdatedAt,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to update plan", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit plan transaction", err)
	}

	if next != nil {
		r.logger.DebugContext(ctx, "plan row updated",
			"tenant_id", tenantID,
			"tier", next.Tier,
			"status", next.Status,
			"applied_version", next.AppliedVersion,
		)
	}
	return nil
}

func scanPlan(row pgx.Row) (*types.Plan, error) {
	var p types.Plan
	err := row.Scan(
		&p.TenantID,
		&p.Tier,
		&p.Status,
		&p.ExternalCustomerID,
		&p.ExternalSubscriptionID,
		&p.AppliedVersion,
		&p.CanceledAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func planReadError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", err)
	}
	return types.NewAppError(types.ErrCodeInternalDB, "failed to read plan", err)
}
