package service

import "time"

// Clock supplies wall-clock time. All window math flows through an injected
// Clock so time-dependent behavior is deterministic under test.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
