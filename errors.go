package llmguard

import (
	"errors"
	"fmt"
	"time"
)

// Error type constants classifying every failure surfaced by the client.
const (
	// ErrorTypeTimeout marks an attempt that exceeded the call envelope deadline.
	ErrorTypeTimeout = "Timeout"
	// ErrorTypeTransient marks failures that plausibly succeed on retry
	// (network blips, rate limiting, 5xx responses).
	ErrorTypeTransient = "Transient"
	// ErrorTypeFatal marks failures retrying cannot help (bad auth,
	// malformed request, validation rejections).
	ErrorTypeFatal = "Fatal"
	// ErrorTypeMalformedResponse marks a structured payload that stayed
	// unparseable after the repair attempt.
	ErrorTypeMalformedResponse = "MalformedResponse"
	// ErrorTypeCircuitOpen marks a rejection by the circuit breaker.
	ErrorTypeCircuitOpen = "CircuitOpen"
	// ErrorTypeRateLimit marks a rejection by the client-side rate limiter.
	ErrorTypeRateLimit = "RateLimit"
	// ErrorTypeCanceled marks a call abandoned because the caller's context
	// was canceled.
	ErrorTypeCanceled = "Canceled"
	// ErrorTypeValidation marks invalid client configuration.
	ErrorTypeValidation = "Validation"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("llmguard: circuit open")

	// ErrRateLimited is returned when the client-side rate limiter denies a call.
	ErrRateLimited = errors.New("llmguard: rate limited")
)

// CallError is the typed error surfaced for every terminal failure, so
// callers can distinguish "no data" from "upstream unavailable".
type CallError struct {
	Type        string
	Message     string
	Cause       error
	Model       string
	StatusCode  int
	Attempt     int
	MaxAttempts int
	RetryAfter  time.Duration
	Timestamp   time.Time
	Duration    time.Duration
}

// Error implements error interface.
func (e *CallError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *CallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *CallError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*CallError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// IsTransient reports whether an error represents a failure that might
// succeed on a later call: timeouts, rate limiting, 5xx-class upstream
// failures and breaker rejections (the breaker reopens on its own).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		switch callErr.Type {
		case ErrorTypeTimeout, ErrorTypeTransient, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		}
	}
	return false
}

// IsFatal reports whether an error is terminal regardless of retries.
func IsFatal(err error) bool {
	var callErr *CallError
	if errors.As(err, &callErr) {
		switch callErr.Type {
		case ErrorTypeFatal, ErrorTypeMalformedResponse, ErrorTypeValidation:
			return true
		}
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *CallError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Model != "" {
		info += fmt.Sprintf("Model: %s\n", e.Model)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxAttempts)
	}
	if e.RetryAfter > 0 {
		info += fmt.Sprintf("Retry After: %v\n", e.RetryAfter)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
