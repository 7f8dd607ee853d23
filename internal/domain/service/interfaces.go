// Package service defines the domain service contracts for the Aegis
// admission service. Implementations live in internal/infrastructure and
// internal/application.
package service

import (
	"context"
	"time"

	"github.com/turtacn/aegis/internal/domain/models"
)

// RateLimitService is the per-key sliding-window failure limiter. It is pure
// in-memory and synchronous: no operation blocks on I/O, and limiting itself
// never fails; it always returns a decision.
type RateLimitService interface {
	// TryAcquire reports whether the key may proceed. A key with an expired
	// tracking window is implicitly evicted and allowed through.
	TryAcquire(key string) bool

	// RecordFailure counts one failure against the key. A failure landing
	// after the window expired starts a fresh record.
	RecordFailure(key string)

	// Reset unconditionally clears the key, e.g. on a successful login.
	Reset(key string)

	// RemainingBlock returns how long the key stays blocked; zero when the key
	// is not blocked.
	RemainingBlock(key string) time.Duration

	// Close stops the background eviction sweep.
	Close()
}

// QuotaStatus is the resolver's view of an actor's allowance. Err carries a
// store failure separately from the (possibly cached) snapshot so an ambiguous
// failure never masquerades as "exhausted" or "unlimited".
type QuotaStatus struct {
	Quota *models.UsageQuota

	// Degraded is set when the snapshot came from cache because the store was
	// unreachable.
	Degraded bool
}

// QuotaService resolves and consumes the free-use allowance.
type QuotaService interface {
	// GetStatus returns the current snapshot, falling back to last-known-good
	// cache on store error. The error is returned alongside the cached value.
	GetStatus(ctx context.Context, actorID string) (*QuotaStatus, error)

	// Decrement atomically consumes one free use via the store. False means
	// the allowance was already exhausted (and no subscription covers it).
	Decrement(ctx context.Context, actorID string) (bool, error)
}

// EntitlementService merges subscription tier and per-module rows into a
// resolved per-actor view with bounded staleness.
type EntitlementService interface {
	// Resolve returns the actor's subscription status and effective module
	// flags, served from a TTL cache on the fast path.
	Resolve(ctx context.Context, actor models.Actor) (*models.Entitlements, error)

	// HasModuleAccess reports whether the actor may use the module, applying
	// the enterprise global override.
	HasModuleAccess(ctx context.Context, actor models.Actor, moduleName string) (bool, error)

	// ForceRefresh drops the cached view and re-resolves immediately. Driven
	// by external events such as a checkout-success callback.
	ForceRefresh(ctx context.Context, actorID string) error
}

// SubscriptionOracle is the payment provider's status-check endpoint, consumed
// as a read-only oracle outside the hot admission path.
type SubscriptionOracle interface {
	FetchStatus(ctx context.Context, actorID string) (*models.SubscriptionStatus, error)
}

// AuditEvent is one admission audit record published to the audit stream.
type AuditEvent struct {
	EventType  string    `json:"event_type"`
	ActorID    string    `json:"actor_id"`
	Module     string    `json:"module,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditService records denial and block events. Implementations must not block
// the admission path on delivery.
type AuditService interface {
	LogEvent(ctx context.Context, event AuditEvent) error
	Close() error
}
