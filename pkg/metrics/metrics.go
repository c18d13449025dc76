package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vpnproxy_reconcile_duration_seconds",
			Help:    "Time taken for a reconciliation pass in seconds, by step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	ReconciliationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpnproxy_reconcile_total",
			Help: "Total number of reconciliation passes by step and result",
		},
		[]string{"step", "result"},
	)

	TunnelsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vpnproxy_tunnels_active",
			Help: "Number of tunnels currently marked active",
		},
	)

	ForwardingsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vpnproxy_forwardings_active",
			Help: "Number of forwardings currently marked active",
		},
	)

	RetentionSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vpnproxy_retention_sweeps_total",
			Help: "Total number of retention sweep cycles completed",
		},
	)

	RetentionDisabledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vpnproxy_retention_disabled_total",
			Help: "Total number of forwardings disabled by the retention sweeper",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpnproxy_api_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vpnproxy_api_request_duration_seconds",
			Help:    "API request duration in seconds by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationTotal)
	prometheus.MustRegister(TunnelsActive)
	prometheus.MustRegister(ForwardingsActive)
	prometheus.MustRegister(RetentionSweepsTotal)
	prometheus.MustRegister(RetentionDisabledTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
