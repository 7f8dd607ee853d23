// Package repository defines the storage contracts consumed by the domain.
// Persistence mechanics live in internal/infrastructure; the domain only
// depends on these narrow interfaces.
package repository

import (
	"context"

	"github.com/turtacn/aegis/internal/domain/models"
)

// QuotaStore is the durable counter store for free-use quotas.
//
// DecrementUsageAtomic is the single authority for consuming quota: the
// implementation must perform the conditional decrement in one server-side
// operation so two concurrent calls with one unit remaining cannot both
// succeed. Client-side check-then-act is forbidden by contract.
type QuotaStore interface {
	// GetUsageStatus returns the actor's current allowance. A missing row is
	// equivalent to the full allowance, never an error.
	GetUsageStatus(ctx context.Context, actorID string) (*models.UsageQuota, error)

	// DecrementUsageAtomic consumes one free use if any remains. Returns false
	// with a nil error when the allowance is already exhausted; an error only
	// signals that the store could not be reached, not that quota ran out.
	DecrementUsageAtomic(ctx context.Context, actorID string) (bool, error)

	// SetSubscriptionFlag mirrors the payment provider's subscribed state onto
	// the quota row so CanUse stays correct between oracle refreshes.
	SetSubscriptionFlag(ctx context.Context, actorID string, subscribed bool) error
}
