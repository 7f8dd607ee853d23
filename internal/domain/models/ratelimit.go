package models

import (
	"time"

	"github.com/turtacn/aegis/pkg/errors"
)

// RateLimitRecord tracks failures for one actor key inside a sliding window.
// The window is anchored to the first failure: WindowStart is never advanced on
// increment, so repeated failures cannot postpone a block indefinitely.
//
// A record is exclusively owned by the limiter instance that created it and is
// only ever mutated under that instance's per-shard lock.
type RateLimitRecord struct {
	// Count is the number of failures recorded inside the current window.
	Count int

	// WindowStart is the timestamp of the first failure in the window.
	WindowStart time.Time

	// Blocked is set once Count reaches the policy's MaxAttempts while the
	// window is still open.
	Blocked bool
}

// WindowExpired reports whether the tracking window has elapsed. Both the read
// path (TryAcquire) and the write path (RecordFailure) must use this same test,
// otherwise a stale WindowStart could turn into a permanent block.
func (r *RateLimitRecord) WindowExpired(now time.Time, window time.Duration) bool {
	return now.Sub(r.WindowStart) >= window
}

// BlockExpired reports whether an active block has run its course.
func (r *RateLimitRecord) BlockExpired(now time.Time, blockDuration time.Duration) bool {
	return now.Sub(r.WindowStart) >= blockDuration
}

// RemainingBlock returns how much of the block is left, floored at zero.
func (r *RateLimitRecord) RemainingBlock(now time.Time, blockDuration time.Duration) time.Duration {
	if !r.Blocked {
		return 0
	}
	remaining := blockDuration - now.Sub(r.WindowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RateLimitPolicy is the validated policy driving one limiter instance.
type RateLimitPolicy struct {
	// MaxAttempts is the failure budget before the key is blocked.
	MaxAttempts int

	// Window is the sliding tracking window anchored to the first failure.
	Window time.Duration

	// BlockDuration is the cool-down once the budget is exhausted.
	BlockDuration time.Duration
}

// Validate rejects malformed policy at construction time. Rate limiting is
// never silently disabled.
func (p RateLimitPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return errors.ErrConfiguration("rate limit policy: max attempts must be positive")
	}
	if p.Window <= 0 {
		return errors.ErrConfiguration("rate limit policy: window must be positive")
	}
	if p.BlockDuration <= 0 {
		return errors.ErrConfiguration("rate limit policy: block duration must be positive")
	}
	return nil
}
