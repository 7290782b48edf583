// Package telemetry provides application-level observability for the template gateway.
//
// All metrics are registered against the default Prometheus registry and served on a
// side-channel HTTP server started by main.go (default port 9090, path /metrics). The
// endpoint is not part of the Gin router, which keeps the scrape path off the public
// ingress.
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/templates/:docid/convert)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as document ids.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Workflow metrics — one counter per workflow outcome plus a duration histogram.
//
// WorkflowOperationsTotal is a CounterVec with labels {operation, outcome} where
// operation is one of "ingest", "convert", "deploy" and outcome is "success" or
// "error". WorkflowDuration is labelled by operation only.
var (
	WorkflowOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_operations_total",
			Help: "Total number of workflow operations, by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_operation_duration_seconds",
			Help:    "Histogram of workflow operation durations, by operation.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)
)

// Sharedo platform client metrics.
//
// SharedoRequestsTotal counts outbound calls to the Sharedo API by endpoint group
// ("token", "repository", "template", "lookup") and status class ("2xx", "4xx", "5xx",
// "error" for transport failures). SharedoTokenRefreshesTotal counts token-cache
// misses that forced a credential exchange.
var (
	SharedoRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharedo_requests_total",
			Help: "Total number of outbound Sharedo API requests, by endpoint group and status class.",
		},
		[]string{"endpoint", "status"},
	)

	SharedoTokenRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sharedo_token_refreshes_total",
			Help: "Total number of Sharedo access-token refreshes (token-cache misses).",
		},
	)
)

// Conversion metrics.
var (
	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_conversions_total",
			Help: "Total number of external document conversions, by outcome (success, timeout, error).",
		},
		[]string{"outcome"},
	)
)

// Database connection pool gauges, polled periodically by StartDBPoolCollector.
var (
	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of open database connections (in use + idle).",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections currently in use.",
		},
	)
)

// StartDBPoolCollector polls db.Stats() every interval and exports the pool gauges.
// It runs until the process exits; the goroutine is cheap and needs no shutdown
// coordination because it holds no resources beyond the ticker.
func StartDBPoolCollector(db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			DBConnectionsOpen.Set(float64(stats.OpenConnections))
			DBConnectionsInUse.Set(float64(stats.InUse))
		}
	}()
	slog.Debug("database pool metrics collector started", "interval", interval)
}
