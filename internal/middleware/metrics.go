// Package middleware provides Gin HTTP middleware components for the template gateway.
// All middleware in this package is registered in internal/api/router.go before any
// route handlers so that every request is covered regardless of handler.
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/template-gateway/template-gateway/internal/telemetry"
)

// MetricsMiddleware returns a Gin handler that records two Prometheus metrics for
// every request that passes through the router:
//
//   - http_requests_total{method, path, status}    — CounterVec
//   - http_request_duration_seconds{method, path}  — HistogramVec
//
// The path label is set from c.FullPath(), which returns the matched Gin route
// template (e.g. /api/v1/templates/:docid/convert) rather than the raw URL, so
// user-supplied docids never inflate label cardinality. Requests that match no
// registered route use the literal string "<no-route>".
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
