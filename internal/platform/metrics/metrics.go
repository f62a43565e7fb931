// Package metrics exposes the prometheus collectors served at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	QueueDepthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lsxsync_queue_depth",
		Help: "Number of jobs by status.",
	}, []string{"status"})

	JobClaimedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lsxsync_job_claimed_total",
		Help: "Jobs claimed by type.",
	}, []string{"type"})

	JobCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lsxsync_job_completed_total",
		Help: "Jobs completed by type.",
	}, []string{"type"})

	JobFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lsxsync_job_failed_total",
		Help: "Jobs failed (retried or DLQ'd) by type and outcome.",
	}, []string{"type", "outcome"})

	BreakerStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lsxsync_breaker_state",
		Help: "Circuit breaker state: 0=closed, 1=open.",
	}, []string{"name"})

	VendorHTTPLatencyMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vend_http_latency_bucket_ms",
		Help:    "Vendor HTTP call latency in milliseconds.",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"method", "status_class"})

	VendorHTTPStatusTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vend_http_status_total",
		Help: "Vendor HTTP responses by status class.",
	}, []string{"status_class"})

	DatabaseConnectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lsxsync_database_connections",
		Help: "Open database connections.",
	})
)

func MustRegister() {
	prometheus.MustRegister(
		QueueDepthGauge,
		JobClaimedTotal,
		JobCompletedTotal,
		JobFailedTotal,
		BreakerStateGauge,
		VendorHTTPLatencyMs,
		VendorHTTPStatusTotal,
		DatabaseConnectionsGauge,
	)
}
