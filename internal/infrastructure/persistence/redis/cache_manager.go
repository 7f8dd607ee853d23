package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/aegis/internal/domain/models"
	"github.com/turtacn/aegis/pkg/errors"
	"github.com/turtacn/aegis/pkg/logger"
)

// SnapshotCache mirrors resolved quota and entitlement state with a short TTL.
// It is a read-through convenience, never the source of truth: on a miss or a
// redis failure the caller falls back to the durable store.
type SnapshotCache interface {
	GetUsageSnapshot(ctx context.Context, actorID string) (*models.UsageQuota, error)
	SetUsageSnapshot(ctx context.Context, quota *models.UsageQuota, ttl time.Duration) error

	GetEntitlements(ctx context.Context, actorID string) (*models.Entitlements, error)
	SetEntitlements(ctx context.Context, entitlements *models.Entitlements, ttl time.Duration) error

	// Invalidate drops every cached snapshot for the actor. Driven by forced
	// refreshes so a just-purchased entitlement becomes visible immediately.
	Invalidate(ctx context.Context, actorID string) error
}

type snapshotCacheImpl struct {
	redis *RedisConnection
	log   logger.Logger
}

// NewSnapshotCache creates a redis-backed SnapshotCache.
func NewSnapshotCache(conn *RedisConnection, log logger.Logger) SnapshotCache {
	return &snapshotCacheImpl{redis: conn, log: log.WithComponent("snapshot_cache")}
}

func usageKey(actorID string) string {
	return fmt.Sprintf("aegis:usage:%s", actorID)
}

func entitlementsKey(actorID string) string {
	return fmt.Sprintf("aegis:entitlements:%s", actorID)
}

func (c *snapshotCacheImpl) GetUsageSnapshot(ctx context.Context, actorID string) (*models.UsageQuota, error) {
	val, err := c.redis.Client.Get(ctx, usageKey(actorID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.ErrNotFound("usage snapshot", actorID)
		}
		return nil, errors.ErrTransientStore("failed to read usage snapshot").WithCause(err)
	}

	var quota models.UsageQuota
	if err := json.Unmarshal([]byte(val), &quota); err != nil {
		return nil, errors.ErrServerError("corrupt usage snapshot").WithCause(err)
	}
	return &quota, nil
}

func (c *snapshotCacheImpl) SetUsageSnapshot(ctx context.Context, quota *models.UsageQuota, ttl time.Duration) error {
	data, err := json.Marshal(quota)
	if err != nil {
		return errors.ErrServerError("failed to marshal usage snapshot").WithCause(err)
	}

	if err := c.redis.Client.Set(ctx, usageKey(quota.ActorID), data, ttl).Err(); err != nil {
		return errors.ErrTransientStore("failed to write usage snapshot").WithCause(err)
	}
	return nil
}

func (c *snapshotCacheImpl) GetEntitlements(ctx context.Context, actorID string) (*models.Entitlements, error) {
	val, err := c.redis.Client.Get(ctx, entitlementsKey(actorID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.ErrNotFound("entitlements snapshot", actorID)
		}
		return nil, errors.ErrTransientStore("failed to read entitlements snapshot").WithCause(err)
	}

	var entitlements models.Entitlements
	if err := json.Unmarshal([]byte(val), &entitlements); err != nil {
		return nil, errors.ErrServerError("corrupt entitlements snapshot").WithCause(err)
	}
	return &entitlements, nil
}

func (c *snapshotCacheImpl) SetEntitlements(ctx context.Context, entitlements *models.Entitlements, ttl time.Duration) error {
	data, err := json.Marshal(entitlements)
	if err != nil {
		return errors.ErrServerError("failed to marshal entitlements snapshot").WithCause(err)
	}

	if err := c.redis.Client.Set(ctx, entitlementsKey(entitlements.ActorID), data, ttl).Err(); err != nil {
		return errors.ErrTransientStore("failed to write entitlements snapshot").WithCause(err)
	}
	return nil
}

func (c *snapshotCacheImpl) Invalidate(ctx context.Context, actorID string) error {
	err := c.redis.Client.Del(ctx, usageKey(actorID), entitlementsKey(actorID)).Err()
	if err != nil && err != redis.Nil {
		return errors.ErrTransientStore("failed to invalidate snapshots").WithCause(err)
	}

	c.log.Debug(ctx, "snapshots invalidated", logger.String("actor_id", actorID))
	return nil
}
