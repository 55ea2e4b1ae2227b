package llmguard

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/hersaputra/llmguard/internal/backoff"
)

// Client wraps a completion/classification Upstream with a timeout envelope,
// retries with exponential backoff + jitter, a circuit breaker and a
// fingerprint-keyed response cache. It is safe for concurrent use by many
// independent callers.
type Client struct {
	upstream   Upstream
	middleware []Middleware

	timeout        time.Duration
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	backoff        backoff.Strategy
	retryCondition RetryCondition

	circuitBreaker *CircuitBreaker

	cache          Cache
	cacheTTL       time.Duration
	cacheCondition CacheCondition
	fingerprint    FingerprintFunc

	limiter *rate.Limiter
	group   *singleflight.Group

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	validationError error
}

// New constructs a Client around upstream using the provided functional
// options. A best effort validation is performed; call IsValid /
// ValidationError for errors.
func New(upstream Upstream, options ...Option) *Client {
	client := &Client{
		upstream:       upstream,
		middleware:     []Middleware{},
		timeout:        30 * time.Second,
		maxAttempts:    3,
		baseDelay:      100 * time.Millisecond,
		maxDelay:       10 * time.Second,
		backoff:        backoff.ExponentialUniformJitter{},
		retryCondition: DefaultRetryCondition,
		circuitBreaker: NewCircuitBreaker(CircuitBreakerConfig{}),
		cache:          nil,
		cacheTTL:       5 * time.Minute,
		cacheCondition: DefaultCacheCondition,
		fingerprint:    DefaultFingerprint,
		limiter:        nil,
		group:          nil,
		metrics:        nil,
		debug:          DefaultDebugConfig(),
		logger:         nil,
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Execute runs one logical call through cache, deduplication, circuit
// breaker, rate limiter and the retry loop around the timeout envelope.
// Every terminal failure is a *CallError carrying its classification.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	model := req.Model

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting call", "requestID", requestID, "model", model, "upstream", c.upstream.Name())
	}

	if c.metrics != nil {
		c.metrics.RecordCallStart(model)
		defer c.metrics.RecordCallEnd(model)
	}

	key := c.fingerprint(req)
	cacheEnabled := c.cache != nil && c.shouldCacheRequest(ctx, req)

	if cacheEnabled {
		if entry, found := c.cache.Get(key); found {
			if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
				c.logger.Debug("Cache hit", "requestID", requestID, "fingerprint", key)
			}
			if c.metrics != nil {
				c.metrics.RecordCacheHit(model)
				c.metrics.RecordCall(model, outcomeSuccess, time.Since(start))
			}
			return responseFromCache(entry), nil
		}

		if c.metrics != nil {
			c.metrics.RecordCacheMiss(model)
		}
		if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
			c.logger.Debug("Cache miss", "requestID", requestID, "fingerprint", key)
		}
	}

	var resp *Response
	var err error

	if c.group != nil {
		var v any
		var shared bool
		v, err, shared = c.group.Do(key, func() (any, error) {
			return c.executeWithRetry(ctx, req, key, cacheEnabled, requestID, start)
		})
		if shared && c.metrics != nil {
			c.metrics.RecordDeduplicationHit(model)
		}
		if v != nil {
			resp = v.(*Response)
			if shared {
				// Coalesced callers each get their own copy so one caller
				// mutating the payload cannot corrupt another's view.
				resp = cloneResponse(resp)
			}
		}
	} else {
		resp, err = c.executeWithRetry(ctx, req, key, cacheEnabled, requestID, start)
	}

	if c.metrics != nil {
		c.metrics.RecordCall(model, outcomeLabel(err), time.Since(start))
	}
	return resp, err
}

// ExecuteJSON runs Execute and unmarshals the (repaired) payload into v.
// The request is forced to expect structured output; the caller's Request is
// left untouched so its fingerprint stays stable across reuse.
func (c *Client) ExecuteJSON(ctx context.Context, req *Request, v any) error {
	if req.ResponseFormat == "" {
		clone := *req
		clone.ResponseFormat = ResponseFormatJSON
		req = &clone
	}
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Payload, v); err != nil {
		return &CallError{
			Type:      ErrorTypeMalformedResponse,
			Message:   "payload does not match target type",
			Cause:     err,
			Model:     req.Model,
			Timestamp: time.Now(),
		}
	}
	return nil
}

// executeWithRetry is the retry loop: each attempt is gated by the rate
// limiter and circuit breaker, runs inside the timeout envelope, and records
// its outcome against the breaker.
func (c *Client) executeWithRetry(ctx context.Context, req *Request, key string, cacheEnabled bool, requestID string, start time.Time) (*Response, error) {
	model := req.Model
	var lastErr *CallError

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.retryDelay(attempt, lastErr)

			if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
				c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", attempt, "maxAttempts", c.maxAttempts, "backoff", delay)
			}
			if c.metrics != nil {
				c.metrics.RecordRetry(model, attempt)
			}

			select {
			case <-ctx.Done():
				return nil, c.newCallError(ErrorTypeCanceled, "call canceled while awaiting backoff", ctx.Err(), req, attempt, start)
			case <-time.After(delay):
			}
		}

		if c.limiter != nil && !c.limiter.Allow() {
			if c.debug != nil && c.debug.Enabled && c.debug.LogRateLimit && c.logger != nil {
				c.logger.Warn("Rate limit exceeded", "requestID", requestID, "model", model)
			}
			if c.metrics != nil {
				c.metrics.RecordError(ErrorTypeRateLimit, model)
			}
			err := c.newCallError(ErrorTypeRateLimit, "client-side rate limit exceeded", ErrRateLimited, req, attempt, start)
			return nil, err
		}
		if c.limiter != nil && c.metrics != nil {
			c.metrics.RecordRateLimiterTokens("default", c.limiter.Tokens())
		}

		if !c.circuitBreaker.Allow() {
			if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
				c.logger.Warn("Circuit breaker rejection", "requestID", requestID, "model", model, "state", c.circuitBreaker.State().String())
			}
			if c.metrics != nil {
				c.metrics.RecordError(ErrorTypeCircuitOpen, model)
			}
			return nil, c.newCallError(ErrorTypeCircuitOpen, "circuit breaker is open", ErrCircuitOpen, req, attempt, start)
		}

		resp, invokeErr := c.invoke(ctx, req)

		if invokeErr == nil {
			c.circuitBreaker.RecordSuccess()
			if c.metrics != nil {
				c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())
			}

			resp, callErr := c.normalizePayload(req, resp, attempt, start)
			if callErr != nil {
				// Unrepairable structured payload: fatal class, never cached.
				if c.metrics != nil {
					c.metrics.RecordError(callErr.Type, model)
				}
				return nil, callErr
			}

			if cacheEnabled {
				c.cache.Set(key, entryFromResponse(resp), c.cacheTTLForRequest(ctx))
				if c.metrics != nil {
					c.metrics.RecordCacheSize("default", c.cache.Len())
				}
				if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
					c.logger.Debug("Response cached", "requestID", requestID, "fingerprint", key)
				}
			}
			return resp, nil
		}

		callErr := c.classify(ctx, invokeErr, req, attempt, start)

		if c.metrics != nil {
			c.metrics.RecordError(callErr.Type, model)
		}

		switch callErr.Type {
		case ErrorTypeTimeout, ErrorTypeTransient:
			c.circuitBreaker.RecordFailure()
			if c.metrics != nil {
				c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())
			}
			if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
				c.logger.Warn("Circuit breaker failure recorded", "requestID", requestID, "error", callErr.Error(), "state", c.circuitBreaker.State().String())
			}
		case ErrorTypeCanceled:
			// Caller walked away; neither a retry candidate nor upstream's fault.
			return nil, callErr
		}

		if attempt < c.maxAttempts && c.retryCondition(callErr) {
			lastErr = callErr
			continue
		}
		return nil, callErr
	}

	return nil, lastErr
}

// invoke is the call envelope: exactly one upstream call under a hard
// per-attempt deadline. No retries happen inside this layer.
func (c *Client) invoke(ctx context.Context, req *Request) (*Response, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.callThroughMiddleware(callCtx, req)
}

func (c *Client) callThroughMiddleware(ctx context.Context, req *Request) (*Response, error) {
	if len(c.middleware) == 0 {
		return c.upstream.Call(ctx, req)
	}

	current := c.upstream
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := current
		current = UpstreamFunc(func(ctx context.Context, r *Request) (*Response, error) {
			return mw(ctx, r, next)
		})
	}
	return current.Call(ctx, req)
}

// classify maps an upstream or context error into the CallError taxonomy.
func (c *Client) classify(ctx context.Context, err error, req *Request, attempt int, start time.Time) *CallError {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr
	}

	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		ce := c.newCallError(upErr.Kind, "upstream call failed", err, req, attempt, start)
		ce.StatusCode = upErr.StatusCode
		ce.RetryAfter = upErr.RetryAfter
		return ce
	}

	if ctx.Err() != nil {
		// The caller's own context ended; the per-attempt deadline is gone
		// with it, so this is a cancellation, not an upstream timeout.
		return c.newCallError(ErrorTypeCanceled, "call canceled by caller", ctx.Err(), req, attempt, start)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return c.newCallError(ErrorTypeTimeout, "upstream call timed out", err, req, attempt, start)
	}
	if errors.Is(err, context.Canceled) {
		return c.newCallError(ErrorTypeCanceled, "call canceled", err, req, attempt, start)
	}

	// Unclassified transport errors are treated as transient, matching the
	// default retry posture for network failures.
	return c.newCallError(ErrorTypeTransient, "upstream call failed", err, req, attempt, start)
}

// normalizePayload validates structured payloads and applies best-effort
// repair before declaring the response malformed.
func (c *Client) normalizePayload(req *Request, resp *Response, attempt int, start time.Time) (*Response, *CallError) {
	if !req.ExpectsJSON() {
		return resp, nil
	}
	if json.Valid(resp.Payload) {
		return resp, nil
	}

	repaired, ok := repairJSON(resp.Payload)
	if !ok {
		return nil, c.newCallError(ErrorTypeMalformedResponse, "structured payload unparseable after repair attempt", nil, req, attempt, start)
	}
	resp.Payload = repaired
	return resp, nil
}

// retryDelay computes the wait before the given attempt. An upstream
// Retry-After hint takes precedence over the exponential schedule, capped at
// maxDelay.
func (c *Client) retryDelay(attempt int, lastErr *CallError) time.Duration {
	if lastErr != nil && lastErr.RetryAfter > 0 {
		if lastErr.RetryAfter > c.maxDelay {
			return c.maxDelay
		}
		return lastErr.RetryAfter
	}
	return c.backoff.Delay(attempt-1, c.baseDelay, c.maxDelay)
}

func (c *Client) newCallError(errorType, message string, cause error, req *Request, attempt int, start time.Time) *CallError {
	return &CallError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Model:       req.Model,
		Attempt:     attempt,
		MaxAttempts: c.maxAttempts,
		Timestamp:   time.Now(),
		Duration:    time.Since(start),
	}
}

func (c *Client) shouldCacheRequest(ctx context.Context, req *Request) bool {
	if cacheControl, ok := ctx.Value(CacheControlKey).(*CacheControl); ok {
		return cacheControl.Enabled
	}
	return c.cacheCondition(req)
}

func (c *Client) cacheTTLForRequest(ctx context.Context) time.Duration {
	if cacheControl, ok := ctx.Value(CacheControlKey).(*CacheControl); ok && cacheControl.TTL > 0 {
		return cacheControl.TTL
	}
	return c.cacheTTL
}

// Breaker exposes the circuit breaker for introspection.
func (c *Client) Breaker() *CircuitBreaker {
	return c.circuitBreaker
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

const outcomeSuccess = "success"

func outcomeLabel(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Type
	}
	return "error"
}
