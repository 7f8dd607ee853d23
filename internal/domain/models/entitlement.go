package models

import (
	"time"

	"github.com/turtacn/aegis/pkg/constants"
)

// ModuleEntitlement is a per-(actor, module) activation row. Expiry is
// evaluated at read time, not eagerly swept: a row whose ExpiresAt has passed
// stays in the store but resolves to inactive.
type ModuleEntitlement struct {
	// ActorID identifies the owning actor.
	ActorID string `json:"actor_id"`

	// ModuleName names the metered module the entitlement covers.
	ModuleName string `json:"module_name"`

	// Active is the stored activation flag.
	Active bool `json:"active"`

	// ActivatedAt is when the entitlement was switched on, if ever.
	ActivatedAt *time.Time `json:"activated_at,omitempty"`

	// ExpiresAt bounds the entitlement's validity. Nil means no expiry.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// EffectiveActive applies the read-time expiry rule: a row is active iff the
// stored flag is set and the expiry, if any, is still in the future.
func (e *ModuleEntitlement) EffectiveActive(now time.Time) bool {
	if !e.Active {
		return false
	}
	if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
		return false
	}
	return true
}

// SubscriptionStatus is the payment provider's view of an actor, refreshed
// periodically and treated as a read-only oracle.
type SubscriptionStatus struct {
	// Subscribed reports whether the actor holds an active subscription.
	Subscribed bool `json:"subscribed"`

	// Tier is the plan level. Nil iff Subscribed is false.
	Tier *constants.SubscriptionTier `json:"tier,omitempty"`

	// SubscriptionEnd is when the current period runs out, if bounded.
	SubscriptionEnd *time.Time `json:"subscription_end,omitempty"`

	// ModuleOverrides are per-module activation flags granted by the plan
	// itself, independent of purchased module rows.
	ModuleOverrides map[string]bool `json:"module_overrides,omitempty"`
}

// IsEnterprise reports whether the actor's tier grants unlimited access.
// Enterprise subscribers bypass per-module gating and all usage quotas.
func (s *SubscriptionStatus) IsEnterprise() bool {
	return s.Subscribed && s.Tier != nil && *s.Tier == constants.TierEnterprise
}

// ActiveAt reports whether the subscription is live at the given instant.
func (s *SubscriptionStatus) ActiveAt(now time.Time) bool {
	if !s.Subscribed {
		return false
	}
	if s.SubscriptionEnd != nil && !s.SubscriptionEnd.After(now) {
		return false
	}
	return true
}

// NoSubscription is the short-circuit status for unauthenticated actors.
func NoSubscription() *SubscriptionStatus {
	return &SubscriptionStatus{}
}

// Entitlements is the fully resolved view of an actor: subscription status
// plus the effective-active flag per known module.
type Entitlements struct {
	// ActorID identifies the actor the resolution belongs to.
	ActorID string `json:"actor_id"`

	// Subscription is the oracle's view at resolution time.
	Subscription *SubscriptionStatus `json:"subscription"`

	// Modules maps module name to effective-active, post expiry check.
	// Unknown modules default to inactive.
	Modules map[string]bool `json:"modules"`

	// ResolvedAt stamps when this view was computed.
	ResolvedAt time.Time `json:"resolved_at"`
}

// HasModule reports whether the actor may use the given module: either the
// resolved entitlement is active or the enterprise tier overrides gating.
func (e *Entitlements) HasModule(moduleName string) bool {
	if e.Subscription != nil && e.Subscription.IsEnterprise() {
		return true
	}
	return e.Modules[moduleName]
}
