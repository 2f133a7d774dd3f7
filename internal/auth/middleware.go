// Package auth resolves the acting identity on each request. Token issuance
// and credential checks live in the external gateway; this layer trusts the
// gateway's X-Actor-ID header once the service API key has been validated.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/sura/internal/models"
	"github.com/your-org/sura/internal/policy"
	"github.com/your-org/sura/internal/storage"
)

const (
	apiKeyHeader  = "X-API-Key"
	actorIDHeader = "X-Actor-ID"

	actorKey = "auth.actor"
	capsKey  = "auth.caps"
	scopeKey = "auth.scope"
)

// APIKeyMiddleware validates the service API key. An empty configured key
// disables the check.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(apiKeyHeader)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

// ActorMiddleware loads the acting user from the X-Actor-ID header, computes
// its capabilities and visibility scope once, and stores them on the request
// context. Unverified actors are rejected outright.
func ActorMiddleware(actors storage.ActorStore, pol *policy.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(actorIDHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing actor id"})
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid actor id"})
			return
		}

		actor, err := actors.GetActor(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown actor"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "resolve actor"})
			return
		}
		if actor.Verification != models.VerificationVerified {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "actor not verified"})
			return
		}

		c.Set(actorKey, *actor)
		c.Set(capsKey, pol.CapabilitiesFor(*actor))
		c.Set(scopeKey, pol.ScopeFor(*actor))
		c.Next()
	}
}

// ActorFrom returns the resolved actor for the request.
func ActorFrom(c *gin.Context) models.Actor {
	return c.MustGet(actorKey).(models.Actor)
}

// CapsFrom returns the actor's precomputed capability set.
func CapsFrom(c *gin.Context) policy.Capabilities {
	return c.MustGet(capsKey).(policy.Capabilities)
}

// ScopeFrom returns the actor's precomputed visibility scope.
func ScopeFrom(c *gin.Context) policy.Scope {
	return c.MustGet(scopeKey).(policy.Scope)
}
