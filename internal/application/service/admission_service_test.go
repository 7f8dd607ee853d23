package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/aegis/internal/domain/models"
	domainService "github.com/turtacn/aegis/internal/domain/service"
	"github.com/turtacn/aegis/pkg/constants"
	pkgerrors "github.com/turtacn/aegis/pkg/errors"
	"github.com/turtacn/aegis/pkg/logger"
)

// fakeLimiter is a scriptable RateLimitService.
type fakeLimiter struct {
	mu        sync.Mutex
	blocked   map[string]time.Duration
	failures  map[string]int
	resets    map[string]int
	acquiring map[string]int
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{
		blocked:   make(map[string]time.Duration),
		failures:  make(map[string]int),
		resets:    make(map[string]int),
		acquiring: make(map[string]int),
	}
}

func (f *fakeLimiter) TryAcquire(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquiring[key]++
	return f.blocked[key] == 0
}

func (f *fakeLimiter) RecordFailure(key string) {
	f.mu.Lock()
	f.failures[key]++
	f.mu.Unlock()
}

func (f *fakeLimiter) Reset(key string) {
	f.mu.Lock()
	f.resets[key]++
	delete(f.blocked, key)
	f.mu.Unlock()
}

func (f *fakeLimiter) RemainingBlock(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked[key]
}

func (f *fakeLimiter) Close() {}

func (f *fakeLimiter) block(key string, remaining time.Duration) {
	f.mu.Lock()
	f.blocked[key] = remaining
	f.mu.Unlock()
}

// fakeEntitlementService answers module access from a map, optionally failing.
// With stale set, the map still answers alongside the error, the way the real
// resolver serves its mirrored snapshot during an outage.
type fakeEntitlementService struct {
	entitled map[string]bool
	err      error
	stale    bool
	resolves int
}

func (f *fakeEntitlementService) Resolve(ctx context.Context, actor models.Actor) (*models.Entitlements, error) {
	f.resolves++
	if f.err != nil && !f.stale {
		return nil, f.err
	}
	return &models.Entitlements{ActorID: actor.ID, Subscription: models.NoSubscription(), Modules: f.entitled}, f.err
}

func (f *fakeEntitlementService) HasModuleAccess(ctx context.Context, actor models.Actor, moduleName string) (bool, error) {
	f.resolves++
	if f.err != nil && !f.stale {
		return false, f.err
	}
	return f.entitled[moduleName], f.err
}

func (f *fakeEntitlementService) ForceRefresh(ctx context.Context, actorID string) error {
	return f.err
}

// fakeAudit records published events.
type fakeAudit struct {
	mu     sync.Mutex
	events []domainService.AuditEvent
}

func (f *fakeAudit) LogEvent(ctx context.Context, event domainService.AuditEvent) error {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	return nil
}

func (f *fakeAudit) Close() error { return nil }

func (f *fakeAudit) denials() []domainService.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domainService.AuditEvent(nil), f.events...)
}

type admissionFixture struct {
	limiter     *fakeLimiter
	quotaStore  *fakeQuotaStore
	entitlement *fakeEntitlementService
	audit       *fakeAudit
	service     AdmissionService
}

func newAdmissionFixture(t *testing.T, totalFreeUses int) *admissionFixture {
	t.Helper()
	limiter := newFakeLimiter()
	quotaStore := newFakeQuotaStore(totalFreeUses)
	quotaService := NewQuotaResolver(quotaStore, newFakeSnapshotCache(), time.Minute, logger.NewNoopLogger())
	entitlement := &fakeEntitlementService{entitled: map[string]bool{}}
	audit := &fakeAudit{}
	return &admissionFixture{
		limiter:     limiter,
		quotaStore:  quotaStore,
		entitlement: entitlement,
		audit:       audit,
		service:     NewAdmissionService(limiter, quotaService, entitlement, audit, nil, logger.NewNoopLogger()),
	}
}

func TestAdmission_AuthAllowedWhenNotBlocked(t *testing.T) {
	fx := newAdmissionFixture(t, 10)

	decision, err := fx.service.CheckAdmission(context.Background(), models.NewAccountActor("alice"), constants.ActionClassAuth, "")
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
}

func TestAdmission_AuthBlockedCarriesRetryAfter(t *testing.T) {
	fx := newAdmissionFixture(t, 10)
	fx.limiter.block("alice", 8*time.Minute+30*time.Second)

	decision, err := fx.service.CheckAdmission(context.Background(), models.NewAccountActor("alice"), constants.ActionClassAuth, "")
	require.NoError(t, err)

	assert.False(t, decision.Admitted)
	assert.Equal(t, constants.DenyReasonRateLimited, decision.Reason)
	assert.Equal(t, 9*60, decision.RetryAfterSeconds, "partial minutes round up")
}

func TestAdmission_AuthDenialIsAudited(t *testing.T) {
	fx := newAdmissionFixture(t, 10)
	fx.limiter.block("alice", time.Minute)

	_, err := fx.service.CheckAdmission(context.Background(), models.NewAccountActor("alice"), constants.ActionClassAuth, "")
	require.NoError(t, err)

	denials := fx.audit.denials()
	require.Len(t, denials, 1)
	assert.Equal(t, "alice", denials[0].ActorID)
	assert.Equal(t, string(constants.DenyReasonRateLimited), denials[0].Reason)
}

func TestAdmission_MeteredEntitledSkipsQuota(t *testing.T) {
	fx := newAdmissionFixture(t, 0)
	fx.entitlement.entitled["reports"] = true

	decision, err := fx.service.CheckAdmission(context.Background(), models.NewAccountActor("alice"), constants.ActionClassMetered, "reports")
	require.NoError(t, err)
	assert.True(t, decision.Admitted, "entitled actor admits regardless of quota")
}

func TestAdmission_MeteredFallsThroughToQuota(t *testing.T) {
	fx := newAdmissionFixture(t, 10)

	decision, err := fx.service.CheckAdmission(context.Background(), models.NewAccountActor("alice"), constants.ActionClassMetered, "reports")
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
}

func TestAdmission_MeteredExhaustedAuthenticatedIsQuotaExhausted(t *testing.T) {
	fx := newAdmissionFixture(t, 1)
	ctx := context.Background()

	consumed, err := fx.quotaStore.DecrementUsageAtomic(ctx, "alice")
	require.NoError(t, err)
	require.True(t, consumed)

	decision, err := fx.service.CheckAdmission(ctx, models.NewAccountActor("alice"), constants.ActionClassMetered, "reports")
	require.NoError(t, err)

	assert.False(t, decision.Admitted)
	assert.Equal(t, constants.DenyReasonQuotaExhausted, decision.Reason)
}

func TestAdmission_MeteredExhaustedAnonymousNeedsEntitlement(t *testing.T) {
	fx := newAdmissionFixture(t, 1)
	ctx := context.Background()
	actor := models.NewAnonymousActor("203.0.113.9")

	consumed, err := fx.quotaStore.DecrementUsageAtomic(ctx, actor.ID)
	require.NoError(t, err)
	require.True(t, consumed)

	decision, err := fx.service.CheckAdmission(ctx, actor, constants.ActionClassMetered, "reports")
	require.NoError(t, err)

	assert.False(t, decision.Admitted)
	assert.Equal(t, constants.DenyReasonEntitlementRequired, decision.Reason)
}

func TestAdmission_SubscriptionOverridesExhaustedQuota(t *testing.T) {
	fx := newAdmissionFixture(t, 1)
	ctx := context.Background()

	consumed, err := fx.quotaStore.DecrementUsageAtomic(ctx, "alice")
	require.NoError(t, err)
	require.True(t, consumed)
	require.NoError(t, fx.quotaStore.SetSubscriptionFlag(ctx, "alice", true))

	decision, err := fx.service.CheckAdmission(ctx, models.NewAccountActor("alice"), constants.ActionClassMetered, "reports")
	require.NoError(t, err)
	assert.True(t, decision.Admitted, "an active subscription admits even with zero free uses left")
}

func TestAdmission_EntitlementOutageFallsThroughDegraded(t *testing.T) {
	fx := newAdmissionFixture(t, 10)
	fx.entitlement.err = pkgerrors.ErrTransientStore("billing provider unreachable")

	decision, err := fx.service.CheckAdmission(context.Background(), models.NewAccountActor("alice"), constants.ActionClassMetered, "reports")
	require.NoError(t, err)

	assert.True(t, decision.Admitted, "quota still covers the action")
	assert.True(t, decision.StoreDegraded, "degraded state must be visible to the caller")
}

func TestAdmission_StaleEntitlementStillAdmitsDegraded(t *testing.T) {
	fx := newAdmissionFixture(t, 0)
	fx.entitlement.entitled["reports"] = true
	fx.entitlement.err = pkgerrors.ErrTransientStore("billing provider unreachable")
	fx.entitlement.stale = true

	decision, err := fx.service.CheckAdmission(context.Background(), models.NewAccountActor("alice"), constants.ActionClassMetered, "reports")
	require.NoError(t, err)

	assert.True(t, decision.Admitted, "a snapshot-backed entitlement admits during the outage")
	assert.True(t, decision.StoreDegraded)
}

func TestAdmission_CheckNeverConsumesQuota(t *testing.T) {
	fx := newAdmissionFixture(t, 10)
	ctx := context.Background()
	actor := models.NewAccountActor("alice")

	for i := 0; i < 5; i++ {
		decision, err := fx.service.CheckAdmission(ctx, actor, constants.ActionClassMetered, "reports")
		require.NoError(t, err)
		require.True(t, decision.Admitted)
	}

	status, err := fx.quotaStore.GetUsageStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, status.FreeUsesRemaining, "checks must not charge the allowance")
}

func TestAdmission_ConfirmUsageChargesOneUnit(t *testing.T) {
	fx := newAdmissionFixture(t, 2)
	ctx := context.Background()
	actor := models.NewAccountActor("alice")

	consumed, quota, err := fx.service.ConfirmUsage(ctx, actor)
	require.NoError(t, err)
	assert.True(t, consumed)
	require.NotNil(t, quota)
	assert.Equal(t, 1, quota.FreeUsesRemaining)
}

func TestAdmission_ConfirmUsageExhaustedReportsFalse(t *testing.T) {
	fx := newAdmissionFixture(t, 1)
	ctx := context.Background()
	actor := models.NewAccountActor("alice")

	consumed, _, err := fx.service.ConfirmUsage(ctx, actor)
	require.NoError(t, err)
	require.True(t, consumed)

	consumed, _, err = fx.service.ConfirmUsage(ctx, actor)
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestAdmission_ConfirmUsageSkipsSubscriberOnDegradedStatus(t *testing.T) {
	store := newFakeQuotaStore(2)
	cache := newFakeSnapshotCache()
	quotaSvc := NewQuotaResolver(store, cache, time.Minute, logger.NewNoopLogger())
	svc := NewAdmissionService(
		newFakeLimiter(), quotaSvc,
		&fakeEntitlementService{entitled: map[string]bool{}},
		&fakeAudit{}, nil, logger.NewNoopLogger(),
	)
	ctx := context.Background()

	require.NoError(t, store.SetSubscriptionFlag(ctx, "alice", true))
	// Warm the snapshot cache, then take the store down.
	_, err := quotaSvc.GetStatus(ctx, "alice")
	require.NoError(t, err)
	store.setFailing(true)

	consumed, quota, err := svc.ConfirmUsage(ctx, models.NewAccountActor("alice"))
	require.NoError(t, err)
	assert.True(t, consumed)
	require.NotNil(t, quota)
	assert.True(t, quota.HasActiveSubscription)

	store.setFailing(false)
	status, err := store.GetUsageStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, status.FreeUsesRemaining, "a subscriber must not be charged on a degraded read")
}

func TestAdmission_ConfirmUsageSkipsSubscribedActors(t *testing.T) {
	fx := newAdmissionFixture(t, 2)
	ctx := context.Background()
	require.NoError(t, fx.quotaStore.SetSubscriptionFlag(ctx, "alice", true))

	consumed, quota, err := fx.service.ConfirmUsage(ctx, models.NewAccountActor("alice"))
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.Equal(t, 2, quota.FreeUsesRemaining, "subscribed actors are never charged")
}

func TestAdmission_ReportAuthResultFeedsLimiter(t *testing.T) {
	fx := newAdmissionFixture(t, 10)
	ctx := context.Background()

	fx.service.ReportAuthResult(ctx, "alice", false)
	fx.service.ReportAuthResult(ctx, "alice", false)
	fx.service.ReportAuthResult(ctx, "alice", true)

	assert.Equal(t, 2, fx.limiter.failures["alice"])
	assert.Equal(t, 1, fx.limiter.resets["alice"])
}

func TestAdmission_RejectsMalformedInput(t *testing.T) {
	fx := newAdmissionFixture(t, 10)
	ctx := context.Background()

	_, err := fx.service.CheckAdmission(ctx, models.Actor{}, constants.ActionClassAuth, "")
	assert.Error(t, err)

	_, err = fx.service.CheckAdmission(ctx, models.NewAccountActor("alice"), "bogus", "")
	assert.Error(t, err)

	_, err = fx.service.CheckAdmission(ctx, models.NewAccountActor("alice"), constants.ActionClassMetered, "")
	assert.Error(t, err)
}
