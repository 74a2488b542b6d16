// Package telemetry provides application-level observability for the
// practice-management backend.
//
// All metrics are registered against the default Prometheus registry and served
// on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<PD_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router, so it is
// never reachable through the public API ingress path and is not covered by
// the auth or CSRF middleware.
//
// HTTP metrics use c.FullPath() (the matched route template, e.g.
// /api/audit/report) rather than the raw URL so user-supplied path segments
// cannot inflate label cardinality.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
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

// Authentication metrics.
//
// AuthenticationsTotal counts token verifications performed by the auth
// middleware, labelled by outcome: "success", "missing", "invalid", "expired".
// A rising "invalid" rate is an early signal of credential-stuffing activity.
//
// LoginAttemptsTotal counts login requests by result ("success" | "failure").
// Alert suggestion: increase(login_attempts_total{result="failure"}[15m]) > 50.
var (
	AuthenticationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authentications_total",
			Help: "Total number of session token verifications, by outcome.",
		},
		[]string{"outcome"},
	)

	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Total number of login attempts, by result.",
		},
		[]string{"result"},
	)

	CSRFRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "csrf_rejections_total",
			Help: "Total number of requests rejected by double-submit CSRF verification.",
		},
	)
)

// Audit trail metrics.
//
// AuditEntriesTotal counts audit persistence attempts by outcome:
//   - "written": entry persisted to the database
//   - "spooled": database write failed, entry appended to the local spool
//   - "dropped": database write failed and the spool was unavailable or full
//
// Any non-zero "dropped" rate is a compliance gap and should page.
//
// AuditSpoolDepth is the number of entries currently waiting in the local
// spool file for replay. A persistently non-zero value means the database has
// been rejecting audit writes.
var (
	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entry persistence attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	AuditSpoolDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_spool_depth",
			Help: "Number of audit entries currently spooled locally awaiting replay.",
		},
	)
)

// DBOpenConnections tracks the number of open connections held by the sql.DB
// pool. It is sampled every 30 seconds by StartDBStatsCollector rather than
// per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates DBOpenConnections.
// The goroutine exits when the database becomes unreachable, which happens
// naturally at shutdown once main's deferred db.Close() runs.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
