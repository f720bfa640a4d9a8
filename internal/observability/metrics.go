package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caseworks/worksheet-service/internal/overload"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenRouter completion call rate. Watch for: error vs success ratio.
	OpenRouterCallsTotal *prometheus.CounterVec

	// Completion latency per call. LLM calls are slow; p95 > 30s means the model is struggling.
	OpenRouterDuration *prometheus.HistogramVec

	// Retry attempts for completion calls. Watch for: high retries = unstable upstream.
	OpenRouterRetriesTotal prometheus.Counter

	// Generation attempts, including re-asks after unusable model output.
	GenerationAttemptsTotal prometheus.Counter

	// Generation failures by reason (parse, structure, upstream).
	GenerationFailuresTotal *prometheus.CounterVec

	// Sanitizer repairs by kind. High counts mean the model keeps ignoring
	// the strict-JSON instruction.
	SanitizerRepairsTotal *prometheus.CounterVec

	// Cache hits. Hit rate = hits/(hits+misses).
	CacheHitsTotal *prometheus.CounterVec

	// Cache backend errors by operation and category.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache operation latency by operation and outcome.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Stale worksheets served while generation is failing.
	StaleCacheServesTotal *prometheus.CounterVec

	// Age of stale worksheets at serve time.
	StaleCacheAgeSeconds prometheus.Histogram

	// Cache warming runs, errors, and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Requests that piggybacked on an in-flight generation for the same key.
	RequestCoalescingHitsTotal   *prometheus.CounterVec
	RequestCoalescingWaitSeconds prometheus.Histogram

	// Concurrent cache misses for the same key (generation stampede).
	CacheStampedeDetectedTotal *prometheus.CounterVec
	CacheStampedeConcurrency   *prometheus.HistogramVec

	// Total worksheet lookups. Watch for: traffic volume, rate() for QPS.
	WorksheetQueriesTotal prometheus.Counter

	// Per-subject query count (allow-list; others go to "other").
	WorksheetQueriesBySubjectTotal *prometheus.CounterVec

	// PDF renders by outcome.
	PDFRendersTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// In-flight requests observed when graceful shutdown began.
	ShutdownInFlightRequests prometheus.Gauge

	circuitBreakerTransitions *prometheus.CounterVec
	circuitBreakerState       *prometheus.GaugeVec

	// trackedSubjects is built from config; used to resolve subject for metrics.
	trackedSubjectsMu sync.RWMutex
	trackedSubjects   map[string]struct{}

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
	OpenRouterCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openrouterCallsTotal",
			Help: "Total number of OpenRouter completion calls",
		},
		[]string{"status"},
	)
	OpenRouterDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openrouterDurationSeconds",
			Help:    "OpenRouter completion latency in seconds (per call)",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"status"},
	)
	OpenRouterRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openrouterRetriesTotal",
			Help: "Total number of retry attempts for OpenRouter completion calls",
		},
	)
	GenerationAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generationAttemptsTotal",
			Help: "Total worksheet generation attempts, including re-asks after bad output",
		},
	)
	GenerationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generationFailuresTotal",
			Help: "Worksheet generation failures by reason",
		},
		[]string{"reason"},
	)
	SanitizerRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanitizerRepairsTotal",
			Help: "Completion sanitizer repairs by kind",
		},
		[]string{"repair"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
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
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "status"},
	)
	StaleCacheServesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staleCacheServesTotal",
			Help: "Stale worksheets served because generation failed",
		},
		[]string{"subject"},
	)
	StaleCacheAgeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "staleCacheAgeSeconds",
			Help:    "Age of stale worksheets at serve time",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs that had at least one failure",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Requests served by piggybacking on an in-flight generation",
		},
		[]string{"subject"},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting on a coalesced generation",
			Buckets: []float64{.01, .1, .5, 1, 5, 15, 30, 60},
		},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Concurrent cache misses observed for the same worksheet key",
		},
		[]string{"subject"},
	)
	CacheStampedeConcurrency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Number of concurrent misses when a stampede is detected",
			Buckets: []float64{2, 3, 5, 10, 25, 50},
		},
		[]string{"subject"},
	)
	WorksheetQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worksheetQueriesTotal",
			Help: "Total number of worksheet lookups",
		},
	)
	WorksheetQueriesBySubjectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worksheetQueriesBySubjectTotal",
			Help: "Worksheet queries by subject (allow-list; others use subject=other)",
		},
		[]string{"subject"},
	)
	PDFRendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfRendersTotal",
			Help: "Worksheet PDF renders by outcome",
		},
		[]string{"status"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests at the moment graceful shutdown started",
		},
	)
	circuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"component"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		OpenRouterCallsTotal, OpenRouterDuration, OpenRouterRetriesTotal,
		GenerationAttemptsTotal, GenerationFailuresTotal, SanitizerRepairsTotal,
		CacheHitsTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		StaleCacheServesTotal, StaleCacheAgeSeconds,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds,
		CacheStampedeDetectedTotal, CacheStampedeConcurrency,
		WorksheetQueriesTotal, WorksheetQueriesBySubjectTotal,
		PDFRendersTotal,
		RateLimitDeniedTotal,
		ShutdownInFlightRequests,
		circuitBreakerTransitions, circuitBreakerState,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.OverloadWindow. Uses same window as lifecycle.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(overload.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(overload.DenialCount(window)) },
			),
		)
	})
}

// RecordShutdownInFlight records how many requests were still in flight
// when graceful shutdown started.
func RecordShutdownInFlight(count int64) {
	ShutdownInFlightRequests.Set(float64(count))
}

// RecordCircuitBreakerTransition records a breaker state change for a component.
func RecordCircuitBreakerTransition(component, from, to string) {
	circuitBreakerTransitions.WithLabelValues(component, from, to).Inc()
}

// SetCircuitBreakerStateGauge sets the current breaker state gauge for a component.
func SetCircuitBreakerStateGauge(component string, state float64) {
	circuitBreakerState.WithLabelValues(component).Set(state)
}

// CircuitBreakerStateValue maps a breaker state ordinal to the gauge value.
func CircuitBreakerStateValue(state int) float64 {
	return float64(state)
}

// SetTrackedSubjects sets the allow-list for subject metrics. Non-tracked subjects increment "other".
func SetTrackedSubjects(subjects []string) {
	trackedSubjectsMu.Lock()
	defer trackedSubjectsMu.Unlock()
	trackedSubjects = make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		trackedSubjects[normalizeSubjectForMetrics(s)] = struct{}{}
	}
}

// MetricSubjectLabel resolves a subject to its metric label, collapsing
// non-tracked subjects to "other" to bound label cardinality.
func MetricSubjectLabel(subject string) string {
	s := normalizeSubjectForMetrics(subject)
	trackedSubjectsMu.RLock()
	_, ok := trackedSubjects[s] // nil map read is safe in Go
	trackedSubjectsMu.RUnlock()
	if ok {
		return s
	}
	return "other"
}

// RecordWorksheetQuery records a worksheet query for the given subject.
func RecordWorksheetQuery(subject string) {
	WorksheetQueriesTotal.Inc()
	WorksheetQueriesBySubjectTotal.WithLabelValues(MetricSubjectLabel(subject)).Inc()
}

func normalizeSubjectForMetrics(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return s
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
