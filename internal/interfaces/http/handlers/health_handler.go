package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/aegis/internal/infrastructure/persistence/redis"
	"github.com/turtacn/aegis/pkg/logger"
)

// HealthHandler provides liveness and readiness endpoints.
type HealthHandler struct {
	db    *pgxpool.Pool
	redis *redis.RedisConnection
	log   logger.Logger
}

// NewHealthHandler creates a new HealthHandler. db and redis may be nil when
// the corresponding backend is disabled.
func NewHealthHandler(db *pgxpool.Pool, redisConn *redis.RedisConnection, log logger.Logger) *HealthHandler {
	return &HealthHandler{db: db, redis: redisConn, log: log}
}

// LivenessCheck reports that the process is up.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// HealthCheck pings the backing stores and reports per-dependency status.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	checks := h.performChecks(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	for _, checkStatus := range checks {
		if checkStatus != "ok" {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func (h *HealthHandler) performChecks(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	checks := make(map[string]string)

	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			h.log.Warn(ctx, "health check failed", logger.String("dependency", name), logger.Error(err))
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	if h.db != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record("database", h.db.Ping(ctx))
		}()
	}
	if h.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record("redis", h.redis.Client.Ping(ctx).Err())
		}()
	}

	wg.Wait()
	return checks
}
