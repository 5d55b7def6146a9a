// Package middleware contains gin middleware shared by the API routes.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/telecast-dev/telecast/internal/logger"
)

// RequestLogger logs one line per request once the handler chain has
// finished. Health checks are skipped; a poller hitting /api/health
// every few seconds would drown out the channel traffic.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if path == "/api/health" {
			return
		}

		logger.Log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")

		if len(c.Errors) > 0 {
			logger.Log.Error().
				Strs("errors", c.Errors.Errors()).
				Str("path", path).
				Msg("Request completed with errors")
		}
	}
}
