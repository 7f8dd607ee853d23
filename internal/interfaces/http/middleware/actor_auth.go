// Package middleware provides the gin middleware chain for the HTTP API.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/aegis/internal/domain/models"
	"github.com/turtacn/aegis/pkg/constants"
	"github.com/turtacn/aegis/pkg/logger"
)

// actorContextKey is the gin context key the resolved actor is stored under.
const actorContextKey = string(constants.ContextKeyActorID)

// extractBearer extracts the token from the Authorization header.
func extractBearer(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// ResolveActor derives the request's actor. A valid session token yields an
// account actor from its subject claim; anything else falls back to an
// anonymous actor keyed by client IP. The middleware never rejects: admission
// semantics for anonymous actors are the controller's job, not transport's.
func ResolveActor(jwtSecret string, log logger.Logger) gin.HandlerFunc {
	secret := []byte(jwtSecret)

	return func(c *gin.Context) {
		tokenStr := extractBearer(c.Request.Header.Get("Authorization"))
		if tokenStr != "" {
			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err == nil && token.Valid {
				if sub, subErr := token.Claims.GetSubject(); subErr == nil && sub != "" {
					c.Set(actorContextKey, models.NewAccountActor(sub))
					c.Next()
					return
				}
			}
			log.Warn(c.Request.Context(), "session token rejected, treating caller as anonymous",
				logger.Error(err),
			)
		}

		c.Set(actorContextKey, models.NewAnonymousActor(c.ClientIP()))
		c.Next()
	}
}

// ActorFromContext returns the actor installed by ResolveActor.
func ActorFromContext(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorContextKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.NewAnonymousActor(c.ClientIP())
}
