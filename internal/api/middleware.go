package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"aicompare/internal/metrics"
	"aicompare/internal/session"
)

// RequestLogger tags every request with an id and logs method, path, status,
// and duration.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		log.Info().
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// rateLimit guards the dispatch route. The window key is the authenticated
// user id when present, else the caller IP. Redis trouble fails open: a
// throttle outage should not take the feature down with it.
func (h *Handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if identity, ok := session.IdentityFromContext(c); ok {
			key = "user:" + strconv.FormatInt(identity.UserID, 10)
		}

		decision, err := h.limiter.Admit(c.Request.Context(), key, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("rate limiter unavailable, admitting request")
			c.Next()
			return
		}
		if !decision.Allowed {
			metrics.Global().RateLimited.Inc()
			retryAfter := int(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":    false,
				"error":      "Too many requests. Please wait before making another query.",
				"retryAfter": retryAfter,
			})
			return
		}
		c.Next()
	}
}
