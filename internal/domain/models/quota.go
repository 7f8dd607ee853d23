package models

// UsageQuota is a read-through snapshot of an actor's consumable free-tier
// allowance. The authoritative state lives in the quota store; a snapshot is
// valid for one decision cycle or a short TTL. Mutation happens only through
// the store's atomic decrement.
type UsageQuota struct {
	// ActorID identifies the actor the snapshot belongs to.
	ActorID string `json:"actor_id"`

	// FreeUsesRemaining is the consumable count left. Never negative.
	FreeUsesRemaining int `json:"free_uses_remaining"`

	// TotalFreeUses is the policy constant the allowance started from.
	TotalFreeUses int `json:"total_free_uses"`

	// HasActiveSubscription marks actors whose subscription overrides the
	// free-use allowance entirely.
	HasActiveSubscription bool `json:"has_active_subscription"`
}

// CanUse reports whether a metered action may run: an active subscription
// overrides everything, otherwise at least one free use must remain.
func (q *UsageQuota) CanUse() bool {
	return q.HasActiveSubscription || q.FreeUsesRemaining > 0
}

// FullAllowance returns the snapshot for an actor with no stored row yet.
// A missing row is equivalent to the full free-tier allowance.
func FullAllowance(actorID string, totalFreeUses int) *UsageQuota {
	return &UsageQuota{
		ActorID:           actorID,
		FreeUsesRemaining: totalFreeUses,
		TotalFreeUses:     totalFreeUses,
	}
}
