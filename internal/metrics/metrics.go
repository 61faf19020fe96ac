package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkiryanov/stravadash/internal/models"
)

const namespace = "stravadash"

var (
	upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Number of requests sent to Strava grouped by endpoint and response status.",
	}, []string{"endpoint", "status"})

	upstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Duration of requests sent to Strava.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "circuit_breaker_state",
		Help:      "Current state of the upstream circuit breaker (0=closed, 1=half-open, 2=open).",
	}, []string{"name"})

	reauthorizations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "reauthorizations_total",
		Help:      "Number of token refresh attempts grouped by result.",
	}, []string{"result"})

	syncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Number of synchronization runs grouped by kind and result.",
	}, []string{"kind", "result"})

	syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "run_duration_seconds",
		Help:      "Duration of synchronization runs.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"kind"})

	lastSync = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful synchronization run.",
	}, []string{"kind"})

	cachedActivities = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "activities",
		Help:      "Number of activities currently cached.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Number of HTTP requests served.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests served.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	prometheus.MustRegister(
		upstreamRequests,
		upstreamDuration,
		breakerState,
		reauthorizations,
		syncRuns,
		syncDuration,
		lastSync,
		cachedActivities,
		httpRequests,
		httpDuration,
	)
}

// Handler exposes default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstream records one upstream call; status 0 means transport error
func ObserveUpstream(endpoint string, status int, d time.Duration) {
	label := "error"
	if status != 0 {
		label = strconv.Itoa(status)
	}
	upstreamRequests.WithLabelValues(endpoint, label).Inc()
	upstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func SetBreakerState(name string, state float64) {
	breakerState.WithLabelValues(name).Set(state)
}

func RecordReauthorization(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	reauthorizations.WithLabelValues(result).Inc()
}

func RecordSyncRun(run models.SyncRun) {
	result := "success"
	if !run.Succeeded() {
		result = "failure"
	}

	syncRuns.WithLabelValues(run.Kind, result).Inc()
	syncDuration.WithLabelValues(run.Kind).Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	if run.Succeeded() {
		lastSync.WithLabelValues(run.Kind).Set(float64(run.FinishedAt.Unix()))
	}
	cachedActivities.Set(float64(run.Total))
}

func SetCachedActivities(n int) {
	cachedActivities.Set(float64(n))
}

func ObserveHTTP(method string, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
