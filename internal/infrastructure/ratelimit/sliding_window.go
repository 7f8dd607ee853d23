// Package ratelimit implements the in-process sliding-window failure limiter.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/turtacn/aegis/internal/domain/models"
	"github.com/turtacn/aegis/internal/domain/service"
	"github.com/turtacn/aegis/internal/infrastructure/monitoring"
	"github.com/turtacn/aegis/pkg/constants"
	"github.com/turtacn/aegis/pkg/logger"
)

// shardCount bounds lock contention; keys hash onto independent shards so
// callers for different keys never block each other.
const shardCount = 32

type shard struct {
	mu      sync.Mutex
	records map[string]*models.RateLimitRecord
}

// SlidingWindowLimiter tracks failures per key inside a window anchored to the
// first failure and blocks a key once the budget is exhausted. State lives in
// a sharded in-memory map with a background eviction sweep, so the total
// number of distinct keys stays bounded by record lifetime.
//
// The limiter is synchronous and non-suspending: no operation performs I/O and
// limiting itself never fails.
type SlidingWindowLimiter struct {
	scope   constants.RateLimitScope
	policy  models.RateLimitPolicy
	clock   service.Clock
	metrics *monitoring.Metrics
	logger  logger.Logger

	shards [shardCount]*shard

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSlidingWindowLimiter creates a limiter for one policy scope. Malformed
// policy is rejected here rather than silently disabling throttling. metrics
// may be nil.
func NewSlidingWindowLimiter(
	scope constants.RateLimitScope,
	policy models.RateLimitPolicy,
	clock service.Clock,
	metrics *monitoring.Metrics,
	log logger.Logger,
	sweepInterval time.Duration,
) (*SlidingWindowLimiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	if clock == nil {
		clock = service.SystemClock{}
	}

	l := &SlidingWindowLimiter{
		scope:   scope,
		policy:  policy,
		clock:   clock,
		metrics: metrics,
		logger:  log.WithComponent("rate_limiter"),
		stop:    make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &shard{records: make(map[string]*models.RateLimitRecord)}
	}

	if sweepInterval > 0 {
		go l.sweepLoop(sweepInterval)
	}

	log.Info(context.Background(), "sliding window limiter initialized",
		logger.String("scope", string(scope)),
		logger.Int("max_attempts", policy.MaxAttempts),
		logger.Duration("window", policy.Window),
		logger.Duration("block_duration", policy.BlockDuration),
	)

	return l, nil
}

// TryAcquire reports whether the key may proceed. A record whose window (or
// block) has naturally elapsed is evicted on the spot and the key allowed
// through; no manual reset is required for self-healing.
func (l *SlidingWindowLimiter) TryAcquire(key string) bool {
	now := l.clock.Now()
	s := l.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return true
	}

	if l.recordExpired(rec, now) {
		delete(s.records, key)
		return true
	}

	if rec.Blocked {
		return false
	}

	return rec.Count < l.policy.MaxAttempts
}

// RecordFailure counts one failure against the key. The window stays anchored
// to the first failure while counting; when the budget is exhausted the record
// is re-anchored once so the block runs its full duration from the blocking
// failure. A failure landing after natural expiry starts a fresh record, using
// the same expiry test as TryAcquire, so a stale window can never produce a
// permanent block.
func (l *SlidingWindowLimiter) RecordFailure(key string) {
	now := l.clock.Now()
	s := l.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || l.recordExpired(rec, now) {
		s.records[key] = &models.RateLimitRecord{Count: 1, WindowStart: now}
		return
	}

	rec.Count++
	if !rec.Blocked && rec.Count >= l.policy.MaxAttempts {
		rec.Blocked = true
		rec.WindowStart = now
		if l.metrics != nil {
			l.metrics.RecordRateLimitBlock(l.scope)
		}
		l.logger.Warn(context.Background(), "key blocked after repeated failures",
			logger.String("scope", string(l.scope)),
			logger.String("key", key),
			logger.Int("count", rec.Count),
		)
	}
}

// Reset unconditionally deletes the key's record, e.g. after a successful
// authentication.
func (l *SlidingWindowLimiter) Reset(key string) {
	s := l.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
}

// RemainingBlock returns how long the key stays blocked, zero when it is not.
func (l *SlidingWindowLimiter) RemainingBlock(key string) time.Duration {
	now := l.clock.Now()
	s := l.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || !rec.Blocked {
		return 0
	}

	return rec.RemainingBlock(now, l.policy.BlockDuration)
}

// Len returns the number of tracked keys across all shards.
func (l *SlidingWindowLimiter) Len() int {
	total := 0
	for _, s := range l.shards {
		s.mu.Lock()
		total += len(s.records)
		s.mu.Unlock()
	}
	return total
}

// Close stops the background sweep. Safe to call more than once.
func (l *SlidingWindowLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// recordExpired applies the shared eviction rule: a blocked record lives until
// its block elapses, an unblocked record until its window elapses. Read and
// write paths must agree on this test.
func (l *SlidingWindowLimiter) recordExpired(rec *models.RateLimitRecord, now time.Time) bool {
	if rec.Blocked {
		return rec.BlockExpired(now, l.policy.BlockDuration)
	}
	return rec.WindowExpired(now, l.policy.Window)
}

func (l *SlidingWindowLimiter) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

func (l *SlidingWindowLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			removed := l.sweep()
			if removed > 0 {
				l.logger.Debug(context.Background(), "evicted expired limiter records",
					logger.String("scope", string(l.scope)),
					logger.Int("count", removed),
				)
			}
		}
	}
}

func (l *SlidingWindowLimiter) sweep() int {
	now := l.clock.Now()
	removed := 0

	for _, s := range l.shards {
		s.mu.Lock()
		for key, rec := range s.records {
			if l.recordExpired(rec, now) {
				delete(s.records, key)
				removed++
			}
		}
		s.mu.Unlock()
	}

	return removed
}
