package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/aegis/internal/domain/models"
	"github.com/turtacn/aegis/internal/domain/repository"
	"github.com/turtacn/aegis/pkg/errors"
	"github.com/turtacn/aegis/pkg/logger"
)

// QuotaRepoImpl implements the QuotaStore contract on a pgx pool. The
// conditional decrement is a single statement, so the store rather than the
// client arbitrates concurrent consumption of the last unit.
type QuotaRepoImpl struct {
	pool          *pgxpool.Pool
	totalFreeUses int
	logger        logger.Logger
}

// NewQuotaRepository creates a postgres-backed quota store. totalFreeUses is
// the policy allowance assigned to actors without a stored row.
func NewQuotaRepository(pool *pgxpool.Pool, totalFreeUses int, log logger.Logger) repository.QuotaStore {
	return &QuotaRepoImpl{
		pool:          pool,
		totalFreeUses: totalFreeUses,
		logger:        log.WithComponent("quota_store"),
	}
}

// EnsureSchema creates the usage_quotas table when absent. Called once at
// startup; also used by integration tests against a fresh database.
func (r *QuotaRepoImpl) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS usage_quotas (
			actor_id                TEXT PRIMARY KEY,
			free_uses_remaining     INTEGER NOT NULL CHECK (free_uses_remaining >= 0),
			total_free_uses         INTEGER NOT NULL CHECK (total_free_uses > 0),
			has_active_subscription BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
		)`

	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return errors.ErrTransientStore("failed to ensure quota schema").WithCause(err)
	}
	return nil
}

// GetUsageStatus returns the actor's allowance. A missing row is the full
// allowance, never an error.
func (r *QuotaRepoImpl) GetUsageStatus(ctx context.Context, actorID string) (*models.UsageQuota, error) {
	const query = `
		SELECT free_uses_remaining, total_free_uses, has_active_subscription
		FROM usage_quotas
		WHERE actor_id = $1`

	quota := &models.UsageQuota{ActorID: actorID}
	err := r.pool.QueryRow(ctx, query, actorID).Scan(
		&quota.FreeUsesRemaining,
		&quota.TotalFreeUses,
		&quota.HasActiveSubscription,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.FullAllowance(actorID, r.totalFreeUses), nil
		}
		r.logger.Error(ctx, "failed to read usage status", err,
			logger.String("actor_id", actorID),
		)
		return nil, errors.ErrTransientStore("failed to read usage status").WithCause(err)
	}

	return quota, nil
}

// DecrementUsageAtomic consumes one free use in a single round-trip. The
// upsert materializes the full allowance for a first-time actor and the WHERE
// clause refuses the decrement once the counter hits zero, so exactly one of
// two concurrent calls can win the last unit.
func (r *QuotaRepoImpl) DecrementUsageAtomic(ctx context.Context, actorID string) (bool, error) {
	const stmt = `
		INSERT INTO usage_quotas (actor_id, free_uses_remaining, total_free_uses, updated_at)
		VALUES ($1, $2 - 1, $2, now())
		ON CONFLICT (actor_id) DO UPDATE
		SET free_uses_remaining = usage_quotas.free_uses_remaining - 1,
		    updated_at = now()
		WHERE usage_quotas.free_uses_remaining > 0
		RETURNING free_uses_remaining`

	var remaining int
	err := r.pool.QueryRow(ctx, stmt, actorID, r.totalFreeUses).Scan(&remaining)
	if err != nil {
		if err == pgx.ErrNoRows {
			// The conditional update refused: allowance already exhausted.
			return false, nil
		}
		r.logger.Error(ctx, "failed to decrement usage", err,
			logger.String("actor_id", actorID),
		)
		return false, errors.ErrTransientStore("failed to decrement usage").WithCause(err)
	}

	r.logger.Debug(ctx, "free use consumed",
		logger.String("actor_id", actorID),
		logger.Int("remaining", remaining),
	)

	return true, nil
}

// SetSubscriptionFlag mirrors the oracle's subscribed state onto the row.
func (r *QuotaRepoImpl) SetSubscriptionFlag(ctx context.Context, actorID string, subscribed bool) error {
	const stmt = `
		INSERT INTO usage_quotas (actor_id, free_uses_remaining, total_free_uses, has_active_subscription, updated_at)
		VALUES ($1, $2, $2, $3, now())
		ON CONFLICT (actor_id) DO UPDATE
		SET has_active_subscription = $3,
		    updated_at = now()`

	if _, err := r.pool.Exec(ctx, stmt, actorID, r.totalFreeUses, subscribed); err != nil {
		r.logger.Error(ctx, "failed to set subscription flag", err,
			logger.String("actor_id", actorID),
			logger.Bool("subscribed", subscribed),
		)
		return errors.ErrTransientStore("failed to set subscription flag").WithCause(err)
	}

	return nil
}
