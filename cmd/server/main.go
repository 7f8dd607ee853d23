package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	appservice "github.com/turtacn/aegis/internal/application/service"
	"github.com/turtacn/aegis/internal/config"
	domainModels "github.com/turtacn/aegis/internal/domain/models"
	domainservice "github.com/turtacn/aegis/internal/domain/service"
	"github.com/turtacn/aegis/internal/infrastructure/audit"
	"github.com/turtacn/aegis/internal/infrastructure/billing"
	"github.com/turtacn/aegis/internal/infrastructure/consumers"
	"github.com/turtacn/aegis/internal/infrastructure/monitoring"
	"github.com/turtacn/aegis/internal/infrastructure/persistence/postgres"
	"github.com/turtacn/aegis/internal/infrastructure/persistence/redis"
	"github.com/turtacn/aegis/internal/infrastructure/ratelimit"
	httpiface "github.com/turtacn/aegis/internal/interfaces/http"
	"github.com/turtacn/aegis/internal/interfaces/http/handlers"
	"github.com/turtacn/aegis/pkg/constants"
)

func main() {
	startupLogger, err := monitoring.NewZapLogger("info")
	if err != nil {
		log.Fatalf("failed to create startup logger: %v", err)
	}

	cfg, err := config.LoadConfig(startupLogger)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := monitoring.NewZapLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing, err := monitoring.NewTracingManager(cfg, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to initialize tracing", err)
	}
	defer tracing.Shutdown(context.Background())

	pool, err := postgres.NewPgxPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to connect to database", err)
	}
	defer pool.Close()

	gormDB, err := postgres.NewGormDB(&cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to open gorm connection", err)
	}

	redisConn, err := redis.NewRedisConnection(&cfg.Redis, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to connect to redis", err)
	}
	defer redisConn.Close()

	metrics := monitoring.NewMetrics()
	snapshotCache := redis.NewSnapshotCache(redisConn, appLogger)
	clock := domainservice.SystemClock{}

	// Repositories
	quotaRepo := postgres.NewQuotaRepository(pool, cfg.Quota.TotalFreeUses, appLogger)
	if repo, ok := quotaRepo.(*postgres.QuotaRepoImpl); ok {
		if err := repo.EnsureSchema(ctx); err != nil {
			appLogger.Fatal(ctx, "failed to ensure quota schema", err)
		}
	}
	entitlementRepo, err := postgres.NewEntitlementRepository(gormDB, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to migrate entitlement schema", err)
	}

	// Limiters: separate instances for auth failures and API abuse.
	authLimiter, err := ratelimit.NewSlidingWindowLimiter(
		constants.RateLimitScopeAuth,
		domainModels.RateLimitPolicy{
			MaxAttempts:   cfg.AuthLimit.MaxAttempts,
			Window:        cfg.AuthLimit.Window,
			BlockDuration: cfg.AuthLimit.BlockDuration,
		},
		clock, metrics, appLogger, cfg.AuthLimit.SweepInterval,
	)
	if err != nil {
		appLogger.Fatal(ctx, "failed to construct auth limiter", err)
	}
	defer authLimiter.Close()

	apiLimiter, err := ratelimit.NewSlidingWindowLimiter(
		constants.RateLimitScopeAPI,
		domainModels.RateLimitPolicy{
			MaxAttempts:   cfg.APILimit.MaxAttempts,
			Window:        cfg.APILimit.Window,
			BlockDuration: cfg.APILimit.BlockDuration,
		},
		clock, metrics, appLogger, cfg.APILimit.SweepInterval,
	)
	if err != nil {
		appLogger.Fatal(ctx, "failed to construct api limiter", err)
	}
	defer apiLimiter.Close()

	// Billing oracle
	oracle, err := billing.NewHTTPOracle(&cfg.Billing, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to construct billing oracle", err)
	}

	// Audit stream
	var auditSvc domainservice.AuditService
	if cfg.Kafka.Enabled {
		auditSvc = audit.NewKafkaProducer(cfg.Kafka, appLogger)
	} else {
		auditSvc = audit.NoopAuditService{}
	}
	defer auditSvc.Close()

	// Application services
	quotaSvc := appservice.NewQuotaResolver(quotaRepo, snapshotCache, cfg.Quota.SnapshotTTL, appLogger)
	entitlementSvc := appservice.NewEntitlementResolver(
		oracle, entitlementRepo, quotaRepo, snapshotCache, clock, cfg.Entitlement.RefreshInterval, metrics, appLogger,
	)
	admissionSvc := appservice.NewAdmissionService(
		authLimiter, quotaSvc, entitlementSvc, auditSvc, metrics, appLogger,
	)

	// HTTP surface
	admissionHandler := handlers.NewAdmissionHandler(admissionSvc, quotaSvc, entitlementSvc)
	healthHandler := handlers.NewHealthHandler(pool, redisConn, appLogger)
	router := httpiface.NewRouter(cfg, appLogger, healthHandler, admissionHandler, apiLimiter)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return router.Start()
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return router.Stop(shutdownCtx)
	})

	group.Go(func() error {
		return entitlementSvc.StartPolling(groupCtx)
	})

	if cfg.Kafka.Enabled {
		consumer := consumers.NewCheckoutConsumer(cfg.Kafka, entitlementRepo, entitlementSvc, clock, appLogger)
		group.Go(func() error {
			return consumer.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil {
		appLogger.Error(context.Background(), "service exited with error", err)
	}
	appLogger.Info(context.Background(), "service stopped")
}
