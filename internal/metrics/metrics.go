// Package metrics holds the Prometheus collectors shared by the server and
// the sync client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP server
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flock_http_requests_total",
			Help: "Total HTTP requests by route pattern, method and status.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flock_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	CountsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flock_counts_created_total",
			Help: "Count records created, split by source (analyze, import, guest).",
		},
		[]string{"source"},
	)

	AchievementsGranted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flock_achievements_granted_total",
			Help: "Achievements granted to users.",
		},
	)

	AnalyzerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flock_analyzer_failures_total",
			Help: "Vision analyzer failures by kind (provider, unparseable).",
		},
		[]string{"kind"},
	)

	// Sync client
	SyncPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flock_sync_passes_total",
			Help: "Sync passes by trigger and outcome (completed, skipped).",
		},
		[]string{"trigger", "outcome"},
	)

	SyncItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flock_sync_items_total",
			Help: "Pending uploads processed by result (succeeded, failed, dead, unauthorized).",
		},
		[]string{"result"},
	)

	PendingUploads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flock_pending_uploads",
			Help: "Pending uploads currently queued on this client.",
		},
	)

	ProbeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flock_connectivity_probes_total",
			Help: "Health probes by result (connected, server_only, offline).",
		},
		[]string{"result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flock_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)
)
