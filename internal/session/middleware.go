package session

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"aicompare/internal/models"
)

const identityContextKey = "session_identity"

// Identify resolves the session cookie (when present) and stores the caller's
// identity in the gin context. Anonymous callers pass through.
func (s *Service) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookieValue, err := c.Cookie(CookieName)
		if err != nil || cookieValue == "" {
			c.Next()
			return
		}
		identity, err := s.Resolve(c.Request.Context(), cookieValue)
		if err != nil {
			log.Error().Err(err).Msg("resolve session")
			c.Next()
			return
		}
		if identity.Authenticated() {
			c.Set(identityContextKey, identity)
		}
		c.Next()
	}
}

// RequireAuth redirects anonymous callers to the login page. Must run after
// Identify.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := IdentityFromContext(c); !ok {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		c.Next()
	}
}

// IdentityFromContext retrieves the resolved identity, if any.
func IdentityFromContext(c *gin.Context) (models.Identity, bool) {
	val, ok := c.Get(identityContextKey)
	if !ok {
		return models.Identity{}, false
	}
	identity, ok := val.(models.Identity)
	return identity, ok && identity.Authenticated()
}
