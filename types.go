package llmguard

import (
	"context"
	"fmt"
	"time"
)

// Chat roles understood by OpenAI-compatible upstreams.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ResponseFormatJSON requests a structured JSON payload from the upstream.
// Responses to such requests are validated (and best-effort repaired) before
// they are returned or cached.
const ResponseFormatJSON = "json_object"

// Message is a single chat turn sent to the upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one logical upstream call: model, conversation payload
// and the generation options that affect the result. Metadata is carried for
// logging/middleware only and never participates in the request fingerprint.
type Request struct {
	Model          string            `json:"model"`
	Messages       []Message         `json:"messages"`
	Temperature    float64           `json:"temperature,omitempty"`
	TopP           float64           `json:"top_p,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat string            `json:"response_format,omitempty"`
	Metadata       map[string]string `json:"-"`
}

// NewChatRequest builds a Request for the given model and messages.
func NewChatRequest(model string, messages ...Message) *Request {
	return &Request{Model: model, Messages: messages}
}

// ExpectsJSON reports whether the caller asked for a structured payload.
func (r *Request) ExpectsJSON() bool {
	return r.ResponseFormat == ResponseFormatJSON
}

// Usage reports upstream token accounting when available.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the upstream result surfaced to callers. Payload holds the
// completion text, or the (possibly repaired) JSON document when the request
// asked for structured output.
type Response struct {
	Payload      []byte
	Model        string
	FinishReason string
	Usage        Usage
	FromCache    bool
}

// Upstream is the outbound boundary: one structured request in, one
// structured response or a classifiable error out. Implementations must be
// safe for concurrent use and must honor ctx cancellation.
type Upstream interface {
	Call(ctx context.Context, req *Request) (*Response, error)
	Name() string
}

// UpstreamFunc adapts a plain function to the Upstream interface.
type UpstreamFunc func(ctx context.Context, req *Request) (*Response, error)

func (f UpstreamFunc) Call(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

func (f UpstreamFunc) Name() string { return "func" }

// UpstreamError lets an Upstream classify its failures into the client's
// error taxonomy. Kind must be one of the ErrorType* constants; RetryAfter
// carries an upstream backoff hint (e.g. a Retry-After header) when known.
type UpstreamError struct {
	Kind       string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("upstream %s (status %d)", e.Kind, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Middleware wraps upstream calls for cross-cutting concerns (auth headers,
// tracing, request rewriting). Middleware runs inside the retry loop, once
// per attempt.
type Middleware func(ctx context.Context, req *Request, next Upstream) (*Response, error)

// RetryCondition decides whether a classified failure is worth another
// attempt. The attempt budget is enforced by the client, not the condition.
type RetryCondition func(err *CallError) bool

// DefaultRetryCondition retries timeouts and transient upstream failures
// only; fatal, malformed-response and circuit-open outcomes propagate
// immediately.
func DefaultRetryCondition(err *CallError) bool {
	if err == nil {
		return false
	}
	return err.Type == ErrorTypeTimeout || err.Type == ErrorTypeTransient
}

// CacheCondition decides whether a request's response may be served from and
// written to the cache.
type CacheCondition func(req *Request) bool

// DefaultCacheCondition caches every request; the fingerprint already keys
// on all generation options, so distinct sampling settings never collide.
func DefaultCacheCondition(req *Request) bool { return true }

// CacheEntry is a cached successful response.
type CacheEntry struct {
	Payload      []byte
	Model        string
	FinishReason string
	Usage        Usage
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Cache stores successful responses keyed by request fingerprint.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	Clear()
	Len() int
}

// Context keys for per-call cache control.
type contextKey string

const (
	// CacheControlKey overrides cache behavior for a single call.
	CacheControlKey contextKey = "llmguard_cache_control"
)

// CacheControl holds per-call cache overrides.
type CacheControl struct {
	Enabled bool
	TTL     time.Duration
}

// WithContextCacheEnabled forces caching for calls issued with ctx.
func WithContextCacheEnabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, CacheControlKey, &CacheControl{Enabled: true})
}

// WithContextCacheDisabled bypasses the cache for calls issued with ctx.
func WithContextCacheDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, CacheControlKey, &CacheControl{Enabled: false})
}

// WithContextCacheTTL enables caching with a custom TTL for calls issued
// with ctx.
func WithContextCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, CacheControlKey, &CacheControl{Enabled: true, TTL: ttl})
}

// Option configures a Client.
type Option func(*Client)
