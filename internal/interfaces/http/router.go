// Package http assembles the gin engine, middleware chain and routes.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/aegis/internal/config"
	domainService "github.com/turtacn/aegis/internal/domain/service"
	"github.com/turtacn/aegis/internal/interfaces/http/handlers"
	"github.com/turtacn/aegis/internal/interfaces/http/middleware"
	"github.com/turtacn/aegis/pkg/logger"
)

// Router wires the HTTP surface of the service.
type Router struct {
	engine           *gin.Engine
	config           *config.Config
	logger           logger.Logger
	healthHandler    *handlers.HealthHandler
	admissionHandler *handlers.AdmissionHandler
	apiLimiter       domainService.RateLimitService
	server           *http.Server
	routesReady      bool
}

// NewRouter creates the router.
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	healthHandler *handlers.HealthHandler,
	admissionHandler *handlers.AdmissionHandler,
	apiLimiter domainService.RateLimitService,
) *Router {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Router{
		engine:           gin.New(),
		config:           cfg,
		logger:           log,
		healthHandler:    healthHandler,
		admissionHandler: admissionHandler,
		apiLimiter:       apiLimiter,
	}
}

// SetupRoutes installs the middleware chain and routes. Idempotent.
func (r *Router) SetupRoutes() {
	if r.routesReady {
		return
	}
	r.routesReady = true

	r.engine.Use(gin.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.RequestLogger(r.logger))

	corsConfig := cors.Config{
		AllowOrigins:     r.config.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	r.engine.Use(cors.New(corsConfig))

	r.engine.GET("/healthz", r.healthHandler.HealthCheck)
	r.engine.GET("/livez", r.healthHandler.LivenessCheck)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if r.config.Server.Environment != "production" {
		pprof.Register(r.engine)
	}

	v1 := r.engine.Group("/v1")
	v1.Use(middleware.ResolveActor(r.config.Server.JWTSecret, r.logger))
	v1.Use(middleware.APIRateLimit(r.apiLimiter, r.logger))
	{
		admission := v1.Group("/admission")
		{
			admission.POST("/check", r.admissionHandler.CheckAdmission)
			admission.POST("/confirm", r.admissionHandler.ConfirmUsage)
		}

		v1.POST("/auth/attempts", r.admissionHandler.ReportAuthAttempt)

		actors := v1.Group("/actors")
		{
			actors.GET("/:actor_id/quota", r.admissionHandler.GetQuota)
			actors.GET("/:actor_id/entitlements", r.admissionHandler.GetEntitlements)
			actors.POST("/:actor_id/entitlements/refresh", r.admissionHandler.RefreshEntitlements)
		}
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})
}

// Start runs the HTTP server. Blocking until the listener fails or Stop is
// called.
func (r *Router) Start() error {
	r.SetupRoutes()

	addr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	r.server = &http.Server{
		Addr:           addr,
		Handler:        r.engine,
		ReadTimeout:    time.Duration(r.config.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(r.config.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	r.logger.Info(context.Background(), "starting http server", logger.String("address", addr))

	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (r *Router) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	r.logger.Info(ctx, "stopping http server")
	return r.server.Shutdown(ctx)
}

// Engine exposes the underlying engine for tests.
func (r *Router) Engine() *gin.Engine {
	r.SetupRoutes()
	return r.engine
}
