// Package constants defines system-wide constants for the Aegis admission service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Actor Constants
// ================================================================================

// ActorKind distinguishes authenticated accounts from anonymous callers.
type ActorKind string

const (
	// ActorKindAccount is an authenticated account identity
	ActorKindAccount ActorKind = "account"

	// ActorKindAnonymous is an anonymous caller keyed by IP or device fingerprint
	ActorKindAnonymous ActorKind = "anonymous"
)

// ================================================================================
// Action Class Constants
// ================================================================================

// ActionClass determines which admission gate applies to a request.
type ActionClass string

const (
	// ActionClassAuth covers authentication-type actions gated by the failure limiter
	ActionClassAuth ActionClass = "auth"

	// ActionClassMetered covers quota-consuming actions gated by entitlement and quota
	ActionClassMetered ActionClass = "metered"
)

// ================================================================================
// Deny Reason Constants
// ================================================================================

// DenyReason is the machine-readable reason attached to a denial.
type DenyReason string

const (
	// DenyReasonRateLimited indicates the actor exceeded the failure budget
	DenyReasonRateLimited DenyReason = "RATE_LIMITED"

	// DenyReasonQuotaExhausted indicates the free-use allowance is spent
	DenyReasonQuotaExhausted DenyReason = "QUOTA_EXHAUSTED"

	// DenyReasonEntitlementRequired indicates the module needs a paid entitlement
	DenyReasonEntitlementRequired DenyReason = "ENTITLEMENT_REQUIRED"
)

// ================================================================================
// Subscription Tier Constants
// ================================================================================

// SubscriptionTier is the paid plan level of an actor.
type SubscriptionTier string

const (
	// TierPro is the standard paid tier
	TierPro SubscriptionTier = "pro"

	// TierEnterprise bypasses per-module gating and all usage quotas
	TierEnterprise SubscriptionTier = "enterprise"
)

// ================================================================================
// Rate Limit Scope Constants
// ================================================================================

// RateLimitScope names the policy a limiter instance enforces.
type RateLimitScope string

const (
	// RateLimitScopeAuth applies to authentication failure tracking
	RateLimitScopeAuth RateLimitScope = "auth"

	// RateLimitScopeAPI applies to generic API abuse throttling per client IP
	RateLimitScopeAPI RateLimitScope = "api"
)

// ================================================================================
// Policy Defaults
// ================================================================================

const (
	// DefaultMaxAttempts is the failure budget before an actor is blocked
	DefaultMaxAttempts = 5

	// DefaultAttemptWindow is the sliding window anchored to the first failure (15 minutes)
	DefaultAttemptWindow = 15 * time.Minute

	// DefaultBlockDuration is the cool-down after the budget is exhausted (15 minutes)
	DefaultBlockDuration = 15 * time.Minute

	// DefaultTotalFreeUses is the consumable free-tier allowance per actor
	DefaultTotalFreeUses = 10

	// DefaultEntitlementRefreshInterval bounds staleness of subscription state (60s)
	DefaultEntitlementRefreshInterval = 60 * time.Second

	// DefaultSnapshotTTL is the redis mirror TTL for usage snapshots
	DefaultSnapshotTTL = 60 * time.Second

	// DefaultSweepInterval is how often expired limiter records are evicted
	DefaultSweepInterval = 5 * time.Minute
)

// ================================================================================
// Service Defaults
// ================================================================================

const (
	// DefaultServicePort is the default HTTP service port
	DefaultServicePort = 8080

	// DefaultHealthCheckPath is the health check endpoint path
	DefaultHealthCheckPath = "/healthz"

	// DefaultRequestTimeout is the default request timeout (5 seconds)
	DefaultRequestTimeout = 5 * time.Second

	// DefaultShutdownTimeout is the graceful shutdown timeout (30 seconds)
	DefaultShutdownTimeout = 30 * time.Second
)

// ================================================================================
// Error Code Constants
// ================================================================================

// ErrorCode is the machine-readable code carried by structured errors.
type ErrorCode string

const (
	// ErrCodeInvalidRequest indicates a malformed or incomplete request
	ErrCodeInvalidRequest ErrorCode = "invalid_request"

	// ErrCodeInvalidActor indicates a missing or unusable actor identity
	ErrCodeInvalidActor ErrorCode = "invalid_actor"

	// ErrCodeConfiguration indicates a malformed policy detected at construction
	ErrCodeConfiguration ErrorCode = "configuration_error"

	// ErrCodeTransientStore indicates a network or timeout failure talking to a store
	ErrCodeTransientStore ErrorCode = "transient_store_error"

	// ErrCodeRateLimited indicates the request was throttled
	ErrCodeRateLimited ErrorCode = "rate_limit_exceeded"

	// ErrCodeNotFound indicates a missing resource
	ErrCodeNotFound ErrorCode = "not_found"

	// ErrCodeServerError indicates an unexpected internal failure
	ErrCodeServerError ErrorCode = "server_error"
)

// ================================================================================
// Context Key Constants
// ================================================================================

// ContextKey is the type for context value keys to avoid collisions.
type ContextKey string

const (
	// ContextKeyRequestID carries the per-request correlation ID
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyActorID carries the resolved actor identifier
	ContextKeyActorID ContextKey = "actor_id"

	// ContextKeyActorKind carries whether the actor is authenticated
	ContextKeyActorKind ContextKey = "actor_kind"
)

// ================================================================================
// Kafka Topic Constants
// ================================================================================

const (
	// TopicAdmissionAudit receives denial and block audit events
	TopicAdmissionAudit = "aegis.admission.audit"

	// TopicCheckoutCompleted receives payment-provider checkout-success events
	TopicCheckoutCompleted = "aegis.checkout.completed"
)
