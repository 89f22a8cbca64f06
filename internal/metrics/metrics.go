// Package metrics exposes Prometheus collectors for the research scraper.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchFallbacksTotal        *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	schedulerTasksTotal        *prometheus.CounterVec
	schedulerTicksTotal        prometheus.Counter
	documentsStoredTotal       *prometheus.CounterVec
	searchRequestsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	runsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_attempts_total",
				Help: "Fetch attempts, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		fetchFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_fallbacks_total",
				Help: "Fallbacks to the render strategy, labeled by reason.",
			},
			[]string{"reason"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Histogram of single fetch attempt latencies, labeled by strategy.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"strategy"},
		)

		schedulerTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_scheduler_tasks_total",
				Help: "Fetch tasks reaching a terminal state, labeled by state.",
			},
			[]string{"state"},
		)

		schedulerTicksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_scheduler_ticks_total",
				Help: "Scheduler ticks evaluated.",
			},
		)

		documentsStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_documents_stored_total",
				Help: "Documents persisted, labeled by site.",
			},
			[]string{"site"},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_search_requests_total",
				Help: "Search API requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_api_requests_total",
				Help: "API requests, labeled by method, route pattern, and status code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_api_request_duration_seconds",
				Help:    "API request latencies, labeled by method and route pattern.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Total number of runs processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently processing a run.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetchAttempt records one strategy attempt.
func ObserveFetchAttempt(strategy, outcome string, duration time.Duration) {
	Init()
	fetchAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveFallback records a fallback to the render strategy.
func ObserveFallback(reason string) {
	Init()
	fetchFallbacksTotal.WithLabelValues(reason).Inc()
}

// ObserveTask records a task transition (succeeded, failed, or retry).
func ObserveTask(state string) {
	Init()
	schedulerTasksTotal.WithLabelValues(state).Inc()
}

// ObserveTick records one scheduler tick.
func ObserveTick() {
	Init()
	schedulerTicksTotal.Inc()
}

// ObserveDocumentStored records a persisted document.
func ObserveDocumentStored(rawURL string) {
	Init()
	documentsStoredTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveSearchRequest records a search API call outcome.
func ObserveSearchRequest(outcome string) {
	Init()
	searchRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
