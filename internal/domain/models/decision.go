package models

import (
	"github.com/turtacn/aegis/pkg/constants"
)

// Decision is the admit/deny verdict for one request, with a machine-readable
// reason on denial. Rate-limited denials carry a retry-after duration in whole
// seconds (derived from whole minutes of remaining block).
type Decision struct {
	// Admitted reports whether the action may proceed.
	Admitted bool `json:"admitted"`

	// Reason is set only on denial.
	Reason constants.DenyReason `json:"reason,omitempty"`

	// RetryAfterSeconds is set on RATE_LIMITED denials.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`

	// StoreDegraded flags that a backing store could not be reached and the
	// decision used last-known cached state. Ambiguous failure never silently
	// biases the verdict; the caller sees the flag.
	StoreDegraded bool `json:"store_degraded,omitempty"`
}

// Admit builds an admitting decision.
func Admit() *Decision {
	return &Decision{Admitted: true}
}

// Deny builds a denial with the given reason.
func Deny(reason constants.DenyReason) *Decision {
	return &Decision{Admitted: false, Reason: reason}
}

// DenyRateLimited builds a RATE_LIMITED denial with retry-after minutes.
func DenyRateLimited(retryAfterMinutes int) *Decision {
	return &Decision{
		Admitted:          false,
		Reason:            constants.DenyReasonRateLimited,
		RetryAfterSeconds: retryAfterMinutes * 60,
	}
}
