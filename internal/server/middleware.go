package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// KioskLookupRateLimit throttles the public kiosk lookup per client address.
// Limiter failures fail open; a redis outage must not take quoting down.
func (s *Server) KioskLookupRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.kioskLimiter.Enabled() {
			c.Next()
			return
		}

		allowed, err := s.kioskLimiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			s.log.Warn("kiosk rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many requests",
			}})
			return
		}
		c.Next()
	}
}
