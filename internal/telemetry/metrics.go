// Package telemetry provides application-level observability for the server
// fleet service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<SFS_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Lifecycle task execution counters, by task name and outcome
//   - Creation throttle reschedule counters, by template
//   - Maintenance sweep run counters
//   - Prolong notification counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /v1/instances/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as instance ids or prolong secrets.
//
// # Usage
//
// Import the package directly and use an exported var:
//
//	telemetry.TaskExecutionsTotal.WithLabelValues(task.Name, "ok").Inc()
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
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /v1/instances/:id/start),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
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

// Lifecycle task metrics — recorded by the dispatcher around every task run.
//
// TaskExecutionsTotal is a CounterVec with labels {task, outcome} where task is
// the queue task name (e.g. server.create) and outcome is one of "ok",
// "rescheduled", or "failed".  Rescheduled executions are throttle deferrals,
// not failures; they carry no audit record.
//
// Example PromQL queries:
//   - Failure rate by task:      sum by (task) (rate(task_executions_total{outcome="failed"}[1h]))
//   - Throughput:                sum(rate(task_executions_total{outcome="ok"}[5m]))
//
// TaskDuration is a HistogramVec with label {task} covering the full backend
// round trip; create against a real cloud API routinely takes seconds.
//
// ThrottleReschedulesTotal is a CounterVec with label {template} counting how
// often the creation throttle pushed a task back onto the delayed queue.  A
// persistently climbing counter for one template means its parallel-execution
// cap is too low for demand.
var (
	TaskExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_executions_total",
			Help: "Total number of lifecycle task executions, by task name and outcome.",
		},
		[]string{"task", "outcome"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_duration_seconds",
			Help:    "Duration of lifecycle task executions, by task name.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"task"},
	)

	ThrottleReschedulesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "throttle_reschedules_total",
			Help: "Total number of task reschedules caused by the per-template creation throttle.",
		},
		[]string{"template"},
	)
)

// Maintenance sweep metrics.
//
// SweepRunsTotal is a CounterVec with label {sweep} ("removal" or "notify")
// incremented once per completed sweep cycle.  A stalled counter means the
// background job died.
//
// Example PromQL queries:
//   - Alert expression:  increase(sweep_runs_total[5m]) == 0
var SweepRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sweep_runs_total",
		Help: "Total number of completed maintenance sweep cycles, by sweep kind.",
	},
	[]string{"sweep"},
)

// ProlongNotificationsSentTotal is a plain Counter (no labels) incremented once
// per expiry-warning email successfully delivered by the prolong notifier.
// A stalled counter combined with instances approaching removal is a useful
// alert signal for SMTP delivery failures.
var ProlongNotificationsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "prolong_notifications_sent_total",
		Help: "Total number of instance expiry warning emails successfully sent.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
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
