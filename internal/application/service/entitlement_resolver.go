package service

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/aegis/internal/domain/models"
	"github.com/turtacn/aegis/internal/domain/repository"
	domainService "github.com/turtacn/aegis/internal/domain/service"
	"github.com/turtacn/aegis/internal/infrastructure/monitoring"
	redisCache "github.com/turtacn/aegis/internal/infrastructure/persistence/redis"
	"github.com/turtacn/aegis/pkg/errors"
	"github.com/turtacn/aegis/pkg/logger"
)

// refresh triggers, used as the latency metric label.
const (
	refreshTriggerResolve = "resolve"
	refreshTriggerForced  = "forced"
	refreshTriggerPoll    = "poll"
)

// EntitlementResolver merges the payment provider's subscription status
// with the stored per-module rows into one resolved view per actor. The view
// is cached locally for the refresh interval, so admission checks between
// refreshes never hit the oracle or the store. Staleness is bounded by the
// interval; checkout events tighten it via ForceRefresh.
type EntitlementResolver struct {
	oracle   domainService.SubscriptionOracle
	store    repository.EntitlementStore
	quota    repository.QuotaStore
	cache    redisCache.SnapshotCache
	local    *gocache.Cache
	group    singleflight.Group
	clock    domainService.Clock
	interval time.Duration
	metrics  *monitoring.Metrics
	logger   logger.Logger

	mu      sync.Mutex
	tracked map[string]struct{}
}

// NewEntitlementResolver creates the EntitlementService. cache and metrics may
// be nil.
func NewEntitlementResolver(
	oracle domainService.SubscriptionOracle,
	store repository.EntitlementStore,
	quota repository.QuotaStore,
	cache redisCache.SnapshotCache,
	clock domainService.Clock,
	refreshInterval time.Duration,
	metrics *monitoring.Metrics,
	log logger.Logger,
) *EntitlementResolver {
	return &EntitlementResolver{
		oracle:   oracle,
		store:    store,
		quota:    quota,
		cache:    cache,
		local:    gocache.New(refreshInterval, 2*refreshInterval),
		clock:    clock,
		interval: refreshInterval,
		metrics:  metrics,
		logger:   log.WithComponent("entitlement_resolver"),
		tracked:  make(map[string]struct{}),
	}
}

// Resolve returns the actor's entitlement view. Unauthenticated actors
// short-circuit to an empty view without touching the oracle or the store.
func (s *EntitlementResolver) Resolve(ctx context.Context, actor models.Actor) (*models.Entitlements, error) {
	if !actor.Valid() {
		return nil, errors.ErrInvalidActor("actor is malformed")
	}

	if !actor.IsAuthenticated() {
		return &models.Entitlements{
			ActorID:      actor.ID,
			Subscription: models.NoSubscription(),
			Modules:      map[string]bool{},
			ResolvedAt:   s.clock.Now(),
		}, nil
	}

	if cached, found := s.local.Get(actor.ID); found {
		return cached.(*models.Entitlements), nil
	}

	// The degraded path yields the last mirrored snapshot and the failure
	// together, so the error never strips the value.
	v, err, _ := s.group.Do(actor.ID, func() (interface{}, error) {
		return s.refresh(ctx, actor.ID, refreshTriggerResolve)
	})
	if v == nil {
		return nil, err
	}
	return v.(*models.Entitlements), err
}

// HasModuleAccess reports whether the actor may use the module. The enterprise
// tier override lives in Entitlements.HasModule.
func (s *EntitlementResolver) HasModuleAccess(ctx context.Context, actor models.Actor, moduleName string) (bool, error) {
	if moduleName == "" {
		return false, errors.ErrInvalidRequest("module name is required")
	}
	resolved, err := s.Resolve(ctx, actor)
	if resolved == nil {
		return false, err
	}
	return resolved.HasModule(moduleName), err
}

// ForceRefresh drops the cached view and re-resolves from oracle and store.
// Called when an external event, such as checkout completion, invalidates the
// current view before its TTL runs out.
func (s *EntitlementResolver) ForceRefresh(ctx context.Context, actorID string) error {
	if actorID == "" {
		return errors.ErrInvalidActor("actor ID is required")
	}

	s.local.Delete(actorID)
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, actorID); err != nil {
			s.logger.Warn(ctx, "failed to invalidate snapshot cache",
				logger.String("actor_id", actorID),
				logger.Error(err),
			)
		}
	}

	_, err := s.refresh(ctx, actorID, refreshTriggerForced)
	return err
}

// refresh builds a fresh view and installs it into the caches. It also tracks
// the actor for background polling and mirrors the subscribed flag onto the
// quota row so CanUse stays correct between polls. When the oracle or the
// store is unreachable, the last mirrored redis snapshot is returned alongside
// the transient error; the snapshot stays out of the local cache so the next
// resolve retries the sources.
func (s *EntitlementResolver) refresh(ctx context.Context, actorID, trigger string) (*models.Entitlements, error) {
	start := time.Now()

	status, err := s.oracle.FetchStatus(ctx, actorID)
	if err != nil {
		return s.snapshotFallback(ctx, actorID,
			errors.ErrTransientStore("subscription status fetch failed").WithCause(err))
	}

	rows, err := s.store.ListModuleRows(ctx, actorID)
	if err != nil {
		return s.snapshotFallback(ctx, actorID,
			errors.ErrTransientStore("entitlement row listing failed").WithCause(err))
	}

	now := s.clock.Now()
	modules := make(map[string]bool, len(rows))
	for i := range rows {
		modules[rows[i].ModuleName] = rows[i].EffectiveActive(now)
	}
	for name, active := range status.ModuleOverrides {
		if active {
			modules[name] = true
		}
	}

	resolved := &models.Entitlements{
		ActorID:      actorID,
		Subscription: status,
		Modules:      modules,
		ResolvedAt:   now,
	}

	s.local.Set(actorID, resolved, s.interval)
	s.track(actorID)

	if s.cache != nil {
		if err := s.cache.SetEntitlements(ctx, resolved, s.interval); err != nil {
			s.logger.Warn(ctx, "failed to mirror entitlement snapshot",
				logger.String("actor_id", actorID),
				logger.Error(err),
			)
		}
	}

	if s.quota != nil {
		subscribed := status.ActiveAt(now)
		if err := s.quota.SetSubscriptionFlag(ctx, actorID, subscribed); err != nil {
			s.logger.Warn(ctx, "failed to mirror subscription flag onto quota row",
				logger.String("actor_id", actorID),
				logger.Error(err),
			)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordEntitlementRefresh(trigger, time.Since(start))
	}

	return resolved, nil
}

// snapshotFallback answers a failed refresh from the last mirrored snapshot.
// The value and the transient error travel together so the caller can tell
// stale from fresh; with no snapshot only the error survives.
func (s *EntitlementResolver) snapshotFallback(ctx context.Context, actorID string, cause error) (*models.Entitlements, error) {
	if s.cache == nil {
		return nil, cause
	}

	cached, err := s.cache.GetEntitlements(ctx, actorID)
	if err != nil {
		return nil, cause
	}

	s.logger.Warn(ctx, "entitlement sources unreachable, serving mirrored snapshot",
		logger.String("actor_id", actorID),
		logger.Error(cause),
	)
	if s.metrics != nil {
		s.metrics.RecordStoreDegradation("entitlement")
	}
	return cached, cause
}

func (s *EntitlementResolver) track(actorID string) {
	s.mu.Lock()
	s.tracked[actorID] = struct{}{}
	s.mu.Unlock()
}

func (s *EntitlementResolver) trackedActors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tracked))
	for id := range s.tracked {
		ids = append(ids, id)
	}
	return ids
}

// StartPolling re-resolves every tracked actor each interval until the context
// is canceled. Blocking; run under an errgroup. Polling keeps views warm so an
// expired local entry rarely forces an oracle fetch on the admission path.
func (s *EntitlementResolver) StartPolling(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "entitlement polling started",
		logger.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "entitlement polling stopped")
			return nil
		case <-ticker.C:
			for _, actorID := range s.trackedActors() {
				if _, err := s.refresh(ctx, actorID, refreshTriggerPoll); err != nil {
					// Keep the previous view; next tick retries.
					s.logger.Warn(ctx, "scheduled entitlement refresh failed",
						logger.String("actor_id", actorID),
						logger.Error(err),
					)
				}
			}
		}
	}
}
