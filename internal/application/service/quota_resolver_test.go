package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/aegis/internal/domain/models"
	pkgerrors "github.com/turtacn/aegis/pkg/errors"
	"github.com/turtacn/aegis/pkg/logger"
)

// fakeQuotaStore is an in-memory QuotaStore with a switchable failure mode.
type fakeQuotaStore struct {
	mu      sync.Mutex
	rows    map[string]*models.UsageQuota
	total   int
	failing bool
	reads   int
}

func newFakeQuotaStore(total int) *fakeQuotaStore {
	return &fakeQuotaStore{rows: make(map[string]*models.UsageQuota), total: total}
}

func (f *fakeQuotaStore) GetUsageStatus(ctx context.Context, actorID string) (*models.UsageQuota, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.failing {
		return nil, fmt.Errorf("connection refused")
	}
	if row, ok := f.rows[actorID]; ok {
		copied := *row
		return &copied, nil
	}
	return models.FullAllowance(actorID, f.total), nil
}

func (f *fakeQuotaStore) DecrementUsageAtomic(ctx context.Context, actorID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return false, fmt.Errorf("connection refused")
	}
	row, ok := f.rows[actorID]
	if !ok {
		row = models.FullAllowance(actorID, f.total)
		f.rows[actorID] = row
	}
	if row.FreeUsesRemaining <= 0 {
		return false, nil
	}
	row.FreeUsesRemaining--
	return true, nil
}

func (f *fakeQuotaStore) SetSubscriptionFlag(ctx context.Context, actorID string, subscribed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("connection refused")
	}
	row, ok := f.rows[actorID]
	if !ok {
		row = models.FullAllowance(actorID, f.total)
		f.rows[actorID] = row
	}
	row.HasActiveSubscription = subscribed
	return nil
}

func (f *fakeQuotaStore) setFailing(failing bool) {
	f.mu.Lock()
	f.failing = failing
	f.mu.Unlock()
}

// fakeSnapshotCache is an in-memory stand-in for the Redis snapshot cache.
type fakeSnapshotCache struct {
	mu           sync.Mutex
	usage        map[string]*models.UsageQuota
	entitlements map[string]*models.Entitlements
}

func newFakeSnapshotCache() *fakeSnapshotCache {
	return &fakeSnapshotCache{
		usage:        make(map[string]*models.UsageQuota),
		entitlements: make(map[string]*models.Entitlements),
	}
}

func (f *fakeSnapshotCache) GetUsageSnapshot(ctx context.Context, actorID string) (*models.UsageQuota, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.usage[actorID]; ok {
		return q, nil
	}
	return nil, pkgerrors.ErrNotFound("usage snapshot", actorID)
}

func (f *fakeSnapshotCache) SetUsageSnapshot(ctx context.Context, quota *models.UsageQuota, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[quota.ActorID] = quota
	return nil
}

func (f *fakeSnapshotCache) GetEntitlements(ctx context.Context, actorID string) (*models.Entitlements, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entitlements[actorID]; ok {
		return e, nil
	}
	return nil, pkgerrors.ErrNotFound("entitlement snapshot", actorID)
}

func (f *fakeSnapshotCache) SetEntitlements(ctx context.Context, entitlements *models.Entitlements, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entitlements[entitlements.ActorID] = entitlements
	return nil
}

func (f *fakeSnapshotCache) Invalidate(ctx context.Context, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.usage, actorID)
	delete(f.entitlements, actorID)
	return nil
}

func TestQuotaResolver_GetStatus_MissingRowIsFullAllowance(t *testing.T) {
	store := newFakeQuotaStore(10)
	resolver := NewQuotaResolver(store, newFakeSnapshotCache(), time.Minute, logger.NewNoopLogger())

	status, err := resolver.GetStatus(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.False(t, status.Degraded)
	assert.Equal(t, 10, status.Quota.FreeUsesRemaining)
	assert.True(t, status.Quota.CanUse())
}

func TestQuotaResolver_GetStatus_FallsBackToCacheWhenStoreDown(t *testing.T) {
	store := newFakeQuotaStore(10)
	cache := newFakeSnapshotCache()
	resolver := NewQuotaResolver(store, cache, time.Minute, logger.NewNoopLogger())

	// Warm the cache with a successful read.
	_, err := resolver.GetStatus(context.Background(), "acct-1")
	require.NoError(t, err)

	store.setFailing(true)

	status, err := resolver.GetStatus(context.Background(), "acct-1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransient(err))
	require.NotNil(t, status)
	assert.True(t, status.Degraded)
	assert.Equal(t, 10, status.Quota.FreeUsesRemaining)
}

func TestQuotaResolver_GetStatus_NoCacheAndStoreDownErrors(t *testing.T) {
	store := newFakeQuotaStore(10)
	store.setFailing(true)
	resolver := NewQuotaResolver(store, newFakeSnapshotCache(), time.Minute, logger.NewNoopLogger())

	status, err := resolver.GetStatus(context.Background(), "acct-unseen")
	require.Error(t, err)
	assert.Nil(t, status)
	assert.True(t, pkgerrors.IsTransient(err))
}

func TestQuotaResolver_Decrement_ConsumesUntilExhausted(t *testing.T) {
	store := newFakeQuotaStore(2)
	resolver := NewQuotaResolver(store, newFakeSnapshotCache(), time.Minute, logger.NewNoopLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		consumed, err := resolver.Decrement(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, consumed)
	}

	consumed, err := resolver.Decrement(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, consumed, "exhausted allowance must report false, not an error")
}

func TestQuotaResolver_Decrement_StoreErrorIsTransient(t *testing.T) {
	store := newFakeQuotaStore(10)
	store.setFailing(true)
	resolver := NewQuotaResolver(store, nil, time.Minute, logger.NewNoopLogger())

	consumed, err := resolver.Decrement(context.Background(), "acct-1")
	require.Error(t, err)
	assert.False(t, consumed)
	assert.True(t, pkgerrors.IsTransient(err))
}

func TestQuotaResolver_RejectsEmptyActor(t *testing.T) {
	resolver := NewQuotaResolver(newFakeQuotaStore(10), nil, time.Minute, logger.NewNoopLogger())

	_, err := resolver.GetStatus(context.Background(), "")
	assert.Error(t, err)

	_, err = resolver.Decrement(context.Background(), "")
	assert.Error(t, err)
}
