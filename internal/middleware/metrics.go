package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/practicedesk/practicedesk/internal/telemetry"
)

// MetricsMiddleware records request count and latency for every request that
// passes through the router.
//
// The path label is set from c.FullPath(), which returns the matched route
// template (e.g. /api/clients/:id) rather than the raw URL. Requests that do
// not match any registered route use the literal string "<no-route>" so
// unhandled paths do not inflate label cardinality.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		status := fmt.Sprintf("%d", c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}
