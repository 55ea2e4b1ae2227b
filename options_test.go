package llmguard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopUpstream() Upstream {
	return UpstreamFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{Payload: []byte("ok"), Model: req.Model}, nil
	})
}

func TestNewDefaultsAreValid(t *testing.T) {
	client := New(noopUpstream())

	assert.True(t, client.IsValid())
	assert.NoError(t, client.ValidationError())
	assert.Equal(t, 30*time.Second, client.timeout)
	assert.Equal(t, 3, client.maxAttempts)
	assert.Equal(t, 100*time.Millisecond, client.baseDelay)
	assert.Equal(t, 10*time.Second, client.maxDelay)
	assert.Nil(t, client.cache, "caching is opt-in")
	assert.Nil(t, client.limiter)
	assert.Nil(t, client.group)
}

func TestValidateConfigurationRejectsNilUpstream(t *testing.T) {
	client := New(nil)

	require.False(t, client.IsValid())
	var callErr *CallError
	require.ErrorAs(t, client.ValidationError(), &callErr)
	assert.Equal(t, ErrorTypeValidation, callErr.Type)
	assert.Contains(t, callErr.Cause.Error(), "upstream cannot be nil")
}

func TestValidateConfigurationRetrySettings(t *testing.T) {
	tests := []struct {
		name    string
		options []Option
		problem string
	}{
		{"zero attempts", []Option{WithMaxAttempts(0)}, "maxAttempts must be at least 1"},
		{"zero base delay", []Option{WithBaseDelay(0)}, "baseDelay must be positive"},
		{"max below base", []Option{WithBaseDelay(time.Second), WithMaxDelay(time.Millisecond)}, "maxDelay must be greater than or equal to baseDelay"},
		{"zero timeout", []Option{WithTimeout(0)}, "timeout must be positive"},
		{"nil backoff", []Option{WithBackoffStrategy(nil)}, "backoff strategy cannot be nil"},
		{"nil retry condition", []Option{WithRetryCondition(nil)}, "retryCondition cannot be nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(noopUpstream(), tt.options...)
			require.False(t, client.IsValid())
			var callErr *CallError
			require.ErrorAs(t, client.ValidationError(), &callErr)
			assert.Contains(t, callErr.Cause.Error(), tt.problem)
		})
	}
}

func TestValidateConfigurationCacheSettings(t *testing.T) {
	client := New(noopUpstream(), WithCustomCache(NewInMemoryCache(0), 0))
	require.False(t, client.IsValid())
	var callErr *CallError
	require.ErrorAs(t, client.ValidationError(), &callErr)
	assert.Contains(t, callErr.Cause.Error(), "cacheTTL must be positive")

	client = New(noopUpstream(), WithCache(time.Minute, 10), WithCacheCondition(nil))
	require.False(t, client.IsValid())
	require.ErrorAs(t, client.ValidationError(), &callErr)
	assert.Contains(t, callErr.Cause.Error(), "cacheCondition cannot be nil")

	client = New(noopUpstream(), WithFingerprintFunc(nil))
	require.False(t, client.IsValid())
	require.ErrorAs(t, client.ValidationError(), &callErr)
	assert.Contains(t, callErr.Cause.Error(), "fingerprint function cannot be nil")
}

func TestValidateConfigurationCircuitBreaker(t *testing.T) {
	client := New(noopUpstream(), WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: -1}))

	// Negative values survive the config defaulting, so validation flags them.
	require.False(t, client.IsValid())
	var callErr *CallError
	require.ErrorAs(t, client.ValidationError(), &callErr)
	assert.Contains(t, callErr.Cause.Error(), "FailureThreshold must be positive")
}

func TestValidateConfigurationDebugRequiresLogger(t *testing.T) {
	client := New(noopUpstream(), WithDebug())

	require.False(t, client.IsValid())
	var callErr *CallError
	require.ErrorAs(t, client.ValidationError(), &callErr)
	assert.Contains(t, callErr.Cause.Error(), "logger must be set when debug is enabled")

	client = New(noopUpstream(), WithDebug(), WithLogger(NewSimpleLogger()))
	assert.True(t, client.IsValid())

	client = New(noopUpstream(), WithSimpleLogger())
	assert.True(t, client.IsValid())
}

func TestValidateConfigurationNilMiddleware(t *testing.T) {
	client := New(noopUpstream(), WithMiddleware(nil))

	require.False(t, client.IsValid())
	var callErr *CallError
	require.ErrorAs(t, client.ValidationError(), &callErr)
	assert.Contains(t, callErr.Cause.Error(), "middleware[0] cannot be nil")
}

func TestOptionsConfigureClient(t *testing.T) {
	cache := NewInMemoryCache(16)
	breaker := CircuitBreakerConfig{FailureThreshold: 7, Cooldown: 2 * time.Minute}

	client := New(noopUpstream(),
		WithTimeout(5*time.Second),
		WithMaxAttempts(4),
		WithBaseDelay(50*time.Millisecond),
		WithMaxDelay(2*time.Second),
		WithCircuitBreaker(breaker),
		WithCustomCache(cache, time.Minute),
		WithRateLimit(10, 5),
		WithDeduplication(),
	)

	require.True(t, client.IsValid())
	assert.Equal(t, 5*time.Second, client.timeout)
	assert.Equal(t, 4, client.maxAttempts)
	assert.Equal(t, 7, client.circuitBreaker.config.FailureThreshold)
	assert.Equal(t, 2*time.Minute, client.circuitBreaker.config.Cooldown)
	assert.Same(t, cache, client.cache.(*InMemoryCache))
	assert.NotNil(t, client.limiter)
	assert.NotNil(t, client.group)
}
