package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/blaue-tonne-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Plan PDF downloads by status. Watch for: client_error (moved plan) or server_error.
	PlanFetchTotal *prometheus.CounterVec

	// Plan PDF download latency. Schedule PDFs are a few MB; p95 > 5s means the host is struggling.
	PlanFetchDuration *prometheus.HistogramVec

	// Failed plan downloads by error category. Watch for: invalid_content (host now serves a landing page).
	PlanFetchErrorsTotal *prometheus.CounterVec

	// Retry attempts for plan downloads.
	PlanFetchRetriesTotal prometheus.Counter

	// Downloaded plan size in bytes.
	PlanFetchBytes prometheus.Histogram

	// Time spent turning a PDF into tables.
	PDFExtractDuration prometheus.Histogram

	// Tables found per extracted plan.
	PDFTablesExtracted prometheus.Histogram

	// Cache hits by cache type (dates, plan).
	CacheHitsTotal *prometheus.CounterVec

	// Cache misses by cache type (dates, plan).
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend errors by operation and category.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache backend latency by operation and outcome.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Concurrent misses for the same district. Watch for: warming not configured for hot districts.
	CacheStampedeDetectedTotal prometheus.Counter

	// Cache warming runs, errors and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// District lookups by result (found, not_found, error).
	DistrictLookupsTotal *prometheus.CounterVec

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per component (0 closed, 1 open, 2 half-open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// In-flight requests observed when shutdown began.
	ShutdownInFlightRequests prometheus.Gauge

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	PlanFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planFetchTotal",
			Help: "Total number of schedule PDF downloads",
		},
		[]string{"status"},
	)
	PlanFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "planFetchDurationSeconds",
			Help:    "Schedule PDF download latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)
	PlanFetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planFetchErrorsTotal",
			Help: "Failed schedule PDF downloads by error category",
		},
		[]string{"category"},
	)
	PlanFetchRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "planFetchRetriesTotal",
			Help: "Total number of retry attempts for schedule PDF downloads",
		},
	)
	PlanFetchBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planFetchBytes",
			Help:    "Size of downloaded schedule PDFs in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 8),
		},
	)
	PDFExtractDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pdfExtractDurationSeconds",
			Help:    "Time to extract tables from a schedule PDF",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5},
		},
	)
	PDFTablesExtracted = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pdfTablesExtracted",
			Help:    "Number of tables extracted per schedule PDF",
			Buckets: []float64{1, 2, 4, 8, 16, 32},
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache backend operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that found another lookup for the same district in progress",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed district",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Duration of cache warming runs in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60},
		},
	)
	DistrictLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "districtLookupsTotal",
			Help: "District lookups against schedule plans by result",
		},
		[]string{"result"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests when graceful shutdown started",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		PlanFetchTotal, PlanFetchDuration, PlanFetchErrorsTotal, PlanFetchRetriesTotal, PlanFetchBytes,
		PDFExtractDuration, PDFTablesExtracted,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheStampedeDetectedTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		DistrictLookupsTotal,
		RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		ShutdownInFlightRequests,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with the degraded window.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a state change and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// RecordShutdownInFlight records the number of in-flight requests at shutdown start.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
