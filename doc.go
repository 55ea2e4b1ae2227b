// Package llmguard wraps a completion/classification upstream (an
// OpenAI-compatible endpoint or anything implementing Upstream) with
// composable reliability primitives:
//
//   - Hard per-attempt timeout envelope
//   - Retries with exponential backoff + uniform jitter (Retry-After aware)
//   - Circuit breaker (closed / open / half-open, single serialized probe)
//   - Response cache keyed by request fingerprint, with TTL + LRU eviction
//   - De-duplication of concurrent identical in-flight calls
//   - Client-side rate limiting (token bucket)
//   - Best-effort repair of malformed structured payloads
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - Safe concurrent use of a single *Client instance across sessions
//   - No ambient global state: breaker and cache live on the Client, so
//     tests get fresh state per instance
//   - Extensibility via user supplied middleware & pluggable cache / logger
//
// Typical usage:
//
//	client := llmguard.New(
//	    llmguard.NewOpenAIUpstream(os.Getenv("OPENAI_API_KEY")),
//	    llmguard.WithTimeout(15*time.Second),
//	    llmguard.WithMaxAttempts(3),
//	    llmguard.WithCircuitBreaker(llmguard.CircuitBreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}),
//	    llmguard.WithCache(10*time.Minute, 1024),
//	    llmguard.WithDeduplication(),
//	)
//	resp, err := client.Execute(ctx, llmguard.NewChatRequest("gpt-4o-mini",
//	    llmguard.Message{Role: llmguard.RoleUser, Content: "Classify: condo or house?"}))
//
// Every terminal failure is a *CallError whose Type distinguishes timeouts,
// transient upstream trouble, fatal request errors, unrepairable payloads
// and breaker rejections, so callers can tell "no data" from "upstream
// unavailable".
package llmguard
