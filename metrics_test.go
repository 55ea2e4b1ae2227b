package llmguard

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
}

func TestMetricsCollectorCounters(t *testing.T) {
	mc := newTestMetrics()

	mc.RecordCall("m", outcomeSuccess, 120*time.Millisecond)
	mc.RecordCall("m", outcomeSuccess, 80*time.Millisecond)
	mc.RecordCall("m", ErrorTypeTimeout, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(mc.callsTotal.WithLabelValues("m", outcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.callsTotal.WithLabelValues("m", ErrorTypeTimeout)))
	assert.Equal(t, 2, testutil.CollectAndCount(mc.callDuration), "one histogram series per label combination")

	mc.RecordRetry("m", 2)
	mc.RecordRetry("m", 2)
	mc.RecordRetry("m", 3)
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.retriesTotal.WithLabelValues("m", "2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.retriesTotal.WithLabelValues("m", "3")))

	mc.RecordCacheHit("m")
	mc.RecordCacheMiss("m")
	mc.RecordCacheMiss("m")
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheHits.WithLabelValues("m")))
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.cacheMisses.WithLabelValues("m")))

	mc.RecordDeduplicationHit("m")
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.deduplicationHits.WithLabelValues("m")))

	mc.RecordError(ErrorTypeTransient, "m")
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.errorsTotal.WithLabelValues(ErrorTypeTransient, "m")))
}

func TestMetricsCollectorGauges(t *testing.T) {
	mc := newTestMetrics()

	mc.RecordCallStart("m")
	mc.RecordCallStart("m")
	mc.RecordCallEnd("m")
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.callsInFlight.WithLabelValues("m")))

	mc.RecordCircuitBreakerState("default", StateHalfOpen)
	assert.Equal(t, float64(StateHalfOpen), testutil.ToFloat64(mc.circuitBreakerState.WithLabelValues("default")))

	mc.RecordRateLimiterTokens("default", 3.5)
	assert.Equal(t, 3.5, testutil.ToFloat64(mc.rateLimiterTokens.WithLabelValues("default")))

	mc.RecordCacheSize("default", 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(mc.cacheSize.WithLabelValues("default")))
}

func TestClientRecordsMetrics(t *testing.T) {
	mc := newTestMetrics()

	upstream := &countingUpstream{script: func(call int, ctx context.Context, req *Request) (*Response, error) {
		if call == 1 {
			return nil, transientErr()
		}
		return okResponse(req, "ok"), nil
	}}
	client := New(upstream, fastOpts(
		WithMetricsCollector(mc),
		WithCache(time.Minute, 0),
	)...)

	req := testRequest()
	model := req.Model

	_, err := client.Execute(context.Background(), req)
	require.NoError(t, err)

	// Second identical call is served from the cache.
	_, err = client.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(mc.callsTotal.WithLabelValues(model, outcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.retriesTotal.WithLabelValues(model, "2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.errorsTotal.WithLabelValues(ErrorTypeTransient, model)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheMisses.WithLabelValues(model)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheHits.WithLabelValues(model)))
	assert.Equal(t, 0.0, testutil.ToFloat64(mc.callsInFlight.WithLabelValues(model)))
}
