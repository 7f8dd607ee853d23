package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	domainService "github.com/turtacn/aegis/internal/domain/service"
	"github.com/turtacn/aegis/pkg/constants"
	"github.com/turtacn/aegis/pkg/errors"
	"github.com/turtacn/aegis/pkg/logger"
)

// APIRateLimit throttles abusive callers with a second limiter instance,
// separate from the auth failure limiter so login lockouts and API abuse
// never share budgets. Every request counts against the caller's window;
// crossing the budget blocks the key for the configured duration.
func APIRateLimit(limiter domainService.RateLimitService, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ActorFromContext(c)
		key := actor.ID

		if !limiter.TryAcquire(key) {
			remaining := limiter.RemainingBlock(key)
			minutes := int(math.Ceil(remaining.Minutes()))
			if minutes < 1 {
				minutes = 1
			}

			log.Warn(c.Request.Context(), "api rate limit exceeded",
				logger.String("actor_id", key),
				logger.Int("retry_after_minutes", minutes),
			)
			appErr := errors.ErrRateLimited(string(constants.RateLimitScopeAPI), minutes)
			c.Header("Retry-After", strconv.Itoa(minutes*60))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errors.ToErrorResponse(appErr))
			return
		}

		limiter.RecordFailure(key)
		c.Next()
	}
}
