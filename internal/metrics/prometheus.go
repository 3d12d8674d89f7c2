package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelog_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradelog_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradelog_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Exchange metrics
	ExchangeAPICalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelog_exchange_api_calls_total",
			Help: "Total number of exchange API calls",
		},
		[]string{"exchange", "endpoint", "status"}, // status: success|error
	)

	ExchangeAPIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelog_exchange_api_errors_total",
			Help: "Exchange fetch failures degraded to empty results",
		},
		[]string{"exchange", "class"}, // class: rate_limit|auth|other
	)

	ExchangeAPILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradelog_exchange_api_latency_seconds",
			Help:    "Exchange API latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"exchange", "endpoint"},
	)

	// Remote table metrics
	TableRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelog_table_requests_total",
			Help: "Remote table API requests",
		},
		[]string{"operation", "status"}, // operation: find|create|update|list
	)

	TableLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradelog_table_latency_seconds",
			Help:    "Remote table API latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"operation"},
	)

	// Reconciliation metrics
	ReconcileDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelog_reconcile_decisions_total",
			Help: "Reconciliation outcomes per observed position",
		},
		[]string{"exchange", "phase", "outcome"}, // phase: open|history
	)

	PositionsObserved = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradelog_positions_observed",
			Help: "Positions returned by the last fetch",
		},
		[]string{"exchange", "phase"},
	)

	StateSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradelog_state_saves_total",
			Help: "Sync state checkpoint writes",
		},
		[]string{"status"}, // status: success|failed
	)
)

var initOnce sync.Once

// Init registers all metrics with Prometheus. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			WorkerExecutions,
			WorkerDuration,
			WorkerLastRun,
			ExchangeAPICalls,
			ExchangeAPIErrors,
			ExchangeAPILatency,
			TableRequests,
			TableLatency,
			ReconcileDecisions,
			PositionsObserved,
			StateSaves,
		)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	WorkerExecutions.WithLabelValues(worker, statusOf(err)).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordExchangeAPICall records an exchange API call
func RecordExchangeAPICall(exchange, endpoint string, latency time.Duration, err error) {
	ExchangeAPICalls.WithLabelValues(exchange, endpoint, statusOf(err)).Inc()
	ExchangeAPILatency.WithLabelValues(exchange, endpoint).Observe(latency.Seconds())
}

// RecordExchangeFailure records a fetch failure that was degraded to an empty result
func RecordExchangeFailure(exchange, class string) {
	ExchangeAPIErrors.WithLabelValues(exchange, class).Inc()
}

// RecordTableCall records a remote table API call
func RecordTableCall(operation string, latency time.Duration, err error) {
	TableRequests.WithLabelValues(operation, statusOf(err)).Inc()
	TableLatency.WithLabelValues(operation).Observe(latency.Seconds())
}

// RecordDecision records one reconciliation outcome
func RecordDecision(exchange, phase, outcome string) {
	ReconcileDecisions.WithLabelValues(exchange, phase, outcome).Inc()
}

// RecordObserved records how many positions a fetch returned
func RecordObserved(exchange, phase string, n int) {
	PositionsObserved.WithLabelValues(exchange, phase).Set(float64(n))
}

// RecordStateSave records a state checkpoint
func RecordStateSave(err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	StateSaves.WithLabelValues(status).Inc()
}
