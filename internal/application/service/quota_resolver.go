// Package service provides application-level services that orchestrate the
// domain services and repositories.
package service

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/aegis/internal/domain/models"
	"github.com/turtacn/aegis/internal/domain/repository"
	domainService "github.com/turtacn/aegis/internal/domain/service"
	redisCache "github.com/turtacn/aegis/internal/infrastructure/persistence/redis"
	"github.com/turtacn/aegis/pkg/errors"
	"github.com/turtacn/aegis/pkg/logger"
)

// quotaResolverImpl resolves the free-use allowance through the durable store,
// with a last-known-good snapshot cache as the degraded-mode fallback. The
// cache never substitutes for the store on the happy path; it only answers
// when the store is unreachable, and then the Degraded flag and the store
// error travel together so the caller can tell stale from fresh.
type quotaResolverImpl struct {
	store       repository.QuotaStore
	cache       redisCache.SnapshotCache
	group       singleflight.Group
	snapshotTTL time.Duration
	logger      logger.Logger
}

// NewQuotaResolver creates the QuotaService. cache may be nil, in which case
// store errors surface directly with no fallback.
func NewQuotaResolver(
	store repository.QuotaStore,
	cache redisCache.SnapshotCache,
	snapshotTTL time.Duration,
	log logger.Logger,
) domainService.QuotaService {
	return &quotaResolverImpl{
		store:       store,
		cache:       cache,
		snapshotTTL: snapshotTTL,
		logger:      log.WithComponent("quota_resolver"),
	}
}

// GetStatus returns the current allowance snapshot. Concurrent requests for
// the same actor collapse into one store read.
func (s *quotaResolverImpl) GetStatus(ctx context.Context, actorID string) (*domainService.QuotaStatus, error) {
	if actorID == "" {
		return nil, errors.ErrInvalidActor("actor ID is required")
	}

	// The degraded path yields both a cached snapshot and the store error,
	// so the error never strips the value.
	v, err, _ := s.group.Do(actorID, func() (interface{}, error) {
		return s.fetch(ctx, actorID)
	})
	if v == nil {
		return nil, err
	}
	return v.(*domainService.QuotaStatus), err
}

func (s *quotaResolverImpl) fetch(ctx context.Context, actorID string) (*domainService.QuotaStatus, error) {
	quota, err := s.store.GetUsageStatus(ctx, actorID)
	if err == nil {
		s.mirror(ctx, quota)
		return &domainService.QuotaStatus{Quota: quota}, nil
	}

	s.logger.Warn(ctx, "quota store unreachable, trying snapshot cache",
		logger.String("actor_id", actorID),
		logger.Error(err),
	)

	if s.cache != nil {
		cached, cacheErr := s.cache.GetUsageSnapshot(ctx, actorID)
		if cacheErr == nil {
			return &domainService.QuotaStatus{Quota: cached, Degraded: true},
				errors.ErrTransientStore("quota store unreachable, serving cached snapshot").WithCause(err)
		}
	}

	return nil, errors.ErrTransientStore("quota store unreachable").WithCause(err)
}

// Decrement consumes one free use through the store's atomic path and, on
// success, refreshes the cached snapshot. The cache is never decremented
// locally; the store's RETURNING value is the only truth.
func (s *quotaResolverImpl) Decrement(ctx context.Context, actorID string) (bool, error) {
	if actorID == "" {
		return false, errors.ErrInvalidActor("actor ID is required")
	}

	consumed, err := s.store.DecrementUsageAtomic(ctx, actorID)
	if err != nil {
		return false, errors.ErrTransientStore("quota decrement failed").WithCause(err)
	}

	if quota, getErr := s.store.GetUsageStatus(ctx, actorID); getErr == nil {
		s.mirror(ctx, quota)
	}

	return consumed, nil
}

func (s *quotaResolverImpl) mirror(ctx context.Context, quota *models.UsageQuota) {
	if s.cache == nil || quota == nil {
		return
	}
	if err := s.cache.SetUsageSnapshot(ctx, quota, s.snapshotTTL); err != nil {
		s.logger.Warn(ctx, "failed to mirror quota snapshot",
			logger.String("actor_id", quota.ActorID),
			logger.Error(err),
		)
	}
}
