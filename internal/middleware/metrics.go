package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"rujing/internal/metrics"
)

// Metrics records request counts and latency by route template.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "/metrics" || path == "/healthz" {
			c.Next()
			return
		}

		if path == "" {
			path = "unmatched"
		}

		start := time.Now()
		c.Next()
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
