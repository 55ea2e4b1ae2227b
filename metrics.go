package llmguard

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the call lifecycle and
// reliability layers. It is safe for concurrent use.
type MetricsCollector struct {
	callsTotal    *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	callsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	rateLimiterTokens *prometheus.GaugeVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   *prometheus.GaugeVec

	deduplicationHits *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		callsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmguard_calls_total",
				Help: "Total number of logical upstream calls",
			},
			[]string{"model", "outcome"},
		),
		callDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmguard_call_duration_seconds",
				Help:    "Duration of logical calls in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "outcome"},
		),
		callsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llmguard_calls_in_flight",
				Help: "Number of logical calls currently in flight",
			},
			[]string{"model"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmguard_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"model", "attempt"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llmguard_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		rateLimiterTokens: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llmguard_rate_limiter_tokens",
				Help: "Current number of available rate limiter tokens",
			},
			[]string{"name"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmguard_cache_hits_total",
				Help: "Total number of response cache hits",
			},
			[]string{"model"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmguard_cache_misses_total",
				Help: "Total number of response cache misses",
			},
			[]string{"model"},
		),
		cacheSize: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llmguard_cache_size",
				Help: "Current number of entries in the response cache",
			},
			[]string{"name"},
		),
		deduplicationHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmguard_deduplication_hits_total",
				Help: "Total number of calls coalesced with an identical in-flight call",
			},
			[]string{"model"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmguard_errors_total",
				Help: "Total number of classified errors",
			},
			[]string{"type", "model"},
		),
	}
}

// RecordCallStart marks a logical call as in flight.
func (mc *MetricsCollector) RecordCallStart(model string) {
	mc.callsInFlight.WithLabelValues(model).Inc()
}

// RecordCallEnd marks a logical call as finished.
func (mc *MetricsCollector) RecordCallEnd(model string) {
	mc.callsInFlight.WithLabelValues(model).Dec()
}

// RecordCall records a completed logical call with its terminal outcome.
func (mc *MetricsCollector) RecordCall(model, outcome string, duration time.Duration) {
	mc.callsTotal.WithLabelValues(model, outcome).Inc()
	mc.callDuration.WithLabelValues(model, outcome).Observe(duration.Seconds())
}

// RecordRetry records a retry attempt.
func (mc *MetricsCollector) RecordRetry(model string, attempt int) {
	mc.retriesTotal.WithLabelValues(model, strconv.Itoa(attempt)).Inc()
}

// RecordCircuitBreakerState records the current circuit breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	mc.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRateLimiterTokens records the available token count.
func (mc *MetricsCollector) RecordRateLimiterTokens(name string, tokens float64) {
	mc.rateLimiterTokens.WithLabelValues(name).Set(tokens)
}

// RecordCacheHit records a response cache hit.
func (mc *MetricsCollector) RecordCacheHit(model string) {
	mc.cacheHits.WithLabelValues(model).Inc()
}

// RecordCacheMiss records a response cache miss.
func (mc *MetricsCollector) RecordCacheMiss(model string) {
	mc.cacheMisses.WithLabelValues(model).Inc()
}

// RecordCacheSize records the current cache entry count.
func (mc *MetricsCollector) RecordCacheSize(name string, size int) {
	mc.cacheSize.WithLabelValues(name).Set(float64(size))
}

// RecordDeduplicationHit records a call served by an in-flight duplicate.
func (mc *MetricsCollector) RecordDeduplicationHit(model string) {
	mc.deduplicationHits.WithLabelValues(model).Inc()
}

// RecordError records a classified error.
func (mc *MetricsCollector) RecordError(errorType, model string) {
	mc.errorsTotal.WithLabelValues(errorType, model).Inc()
}
