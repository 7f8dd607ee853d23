// Package dto defines the request and response shapes for the HTTP API.
package dto

import (
	"github.com/turtacn/aegis/internal/domain/models"
	"github.com/turtacn/aegis/pkg/constants"
)

// AdmissionCheckRequest asks whether one action by one actor may proceed.
// For metered actions Module names the capability being gated; auth-class
// actions leave it empty.
type AdmissionCheckRequest struct {
	ActionClass string `json:"action_class" binding:"required"`
	Module      string `json:"module,omitempty"`
}

// AdmissionDecisionResponse is the wire form of a decision. Denials carry a
// machine-readable reason; rate-limited denials additionally carry
// retry_after_seconds.
type AdmissionDecisionResponse struct {
	Admitted          bool   `json:"admitted"`
	Reason            string `json:"reason,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	StoreDegraded     bool   `json:"store_degraded,omitempty"`
}

// FromDecision converts a domain decision into its wire form.
func FromDecision(d *models.Decision) *AdmissionDecisionResponse {
	return &AdmissionDecisionResponse{
		Admitted:          d.Admitted,
		Reason:            string(d.Reason),
		RetryAfterSeconds: d.RetryAfterSeconds,
		StoreDegraded:     d.StoreDegraded,
	}
}

// ConfirmUsageRequest charges one free use after a metered action succeeded.
type ConfirmUsageRequest struct {
	Module string `json:"module,omitempty"`
}

// ConfirmUsageResponse reports whether a unit was consumed. Consumed false
// with a 200 means the allowance ran out between check and confirm.
type ConfirmUsageResponse struct {
	Consumed          bool `json:"consumed"`
	FreeUsesRemaining int  `json:"free_uses_remaining"`
}

// AuthAttemptRequest reports the outcome of one authentication attempt so the
// failure limiter can count or reset.
type AuthAttemptRequest struct {
	Key     string `json:"key" binding:"required"`
	Success bool   `json:"success"`
}

// QuotaStatusResponse is the read-only view of an actor's allowance.
type QuotaStatusResponse struct {
	ActorID               string `json:"actor_id"`
	FreeUsesRemaining     int    `json:"free_uses_remaining"`
	TotalFreeUses         int    `json:"total_free_uses"`
	HasActiveSubscription bool   `json:"has_active_subscription"`
	Degraded              bool   `json:"degraded,omitempty"`
}

// EntitlementsResponse is the resolved per-actor entitlement view.
type EntitlementsResponse struct {
	ActorID    string          `json:"actor_id"`
	Subscribed bool            `json:"subscribed"`
	Tier       string          `json:"tier,omitempty"`
	Modules    map[string]bool `json:"modules"`
	ResolvedAt string          `json:"resolved_at"`

	// Degraded marks a view served from the last-known snapshot because the
	// billing provider or the store was unreachable.
	Degraded bool `json:"degraded,omitempty"`
}

// FromEntitlements converts a resolved view into its wire form.
func FromEntitlements(e *models.Entitlements) *EntitlementsResponse {
	resp := &EntitlementsResponse{
		ActorID:    e.ActorID,
		Modules:    e.Modules,
		ResolvedAt: e.ResolvedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if e.Subscription != nil {
		resp.Subscribed = e.Subscription.Subscribed
		if e.Subscription.Tier != nil {
			resp.Tier = string(*e.Subscription.Tier)
		}
	}
	if resp.Modules == nil {
		resp.Modules = map[string]bool{}
	}
	return resp
}

// ParseActionClass validates the wire action class.
func ParseActionClass(s string) (constants.ActionClass, bool) {
	switch constants.ActionClass(s) {
	case constants.ActionClassAuth:
		return constants.ActionClassAuth, true
	case constants.ActionClassMetered:
		return constants.ActionClassMetered, true
	}
	return "", false
}
