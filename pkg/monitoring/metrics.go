package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Ledger store metrics
	ledgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of ledger store operations",
		},
		[]string{"operation", "status"},
	)

	ledgerSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_active_subscriptions",
			Help: "Number of active ledger subscriptions",
		},
	)

	// Secondary index metrics
	indexRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "index_refresh_duration_seconds",
			Help:    "Duration of patient index scans in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)

	// Workflow metrics
	workflowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Total number of appointment status transitions",
		},
		[]string{"target", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		ledgerOpsTotal,
		ledgerSubscriptions,
		indexRefreshDuration,
		workflowTransitionsTotal,
	)
}

// RecordHTTPRequest records metrics for an HTTP request
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordLedgerOp records a ledger store operation outcome
func RecordLedgerOp(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ledgerOpsTotal.WithLabelValues(operation, status).Inc()
}

// SubscriptionOpened increments the active subscription gauge
func SubscriptionOpened() {
	ledgerSubscriptions.Inc()
}

// SubscriptionReleased decrements the active subscription gauge
func SubscriptionReleased() {
	ledgerSubscriptions.Dec()
}

// ObserveIndexRefresh records the duration of one patient index scan
func ObserveIndexRefresh(duration time.Duration) {
	indexRefreshDuration.Observe(duration.Seconds())
}

// RecordTransition records an appointment status transition attempt
func RecordTransition(target string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	workflowTransitionsTotal.WithLabelValues(target, status).Inc()
}

// MetricsHandler returns the prometheus metrics HTTP handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
