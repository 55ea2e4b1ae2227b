package backoff

import (
	"math/rand"
	"time"
)

// Strategy defines the interface for backoff calculation algorithms.
type Strategy interface {
	// Delay returns the wait before the next attempt. retry is the number
	// of failed attempts so far (1 for the first retry).
	Delay(retry int, baseDelay, maxDelay time.Duration) time.Duration
}

// ExponentialUniformJitter doubles the delay per retry, caps it at maxDelay,
// then adds jitter drawn uniformly from [0, baseDelay) to avoid
// thundering-herd retries.
type ExponentialUniformJitter struct{}

// Delay implements the Strategy interface.
func (ExponentialUniformJitter) Delay(retry int, baseDelay, maxDelay time.Duration) time.Duration {
	if retry < 1 {
		retry = 1
	}
	// Prevent overflow by limiting the exponent.
	if retry > 31 {
		retry = 31
	}

	delay := baseDelay << uint(retry-1)
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}

	if baseDelay > 0 {
		delay += time.Duration(rand.Float64() * float64(baseDelay))
	}
	return delay
}

// DecorrelatedJitter implements decorrelated jitter as per the AWS
// architecture blog: each delay is drawn between baseDelay and
// min(maxDelay, baseDelay*3^retry). Smoother tail latencies than plain
// exponential jitter under sustained contention.
type DecorrelatedJitter struct{}

// Delay implements the Strategy interface.
func (DecorrelatedJitter) Delay(retry int, baseDelay, maxDelay time.Duration) time.Duration {
	if retry <= 0 {
		return baseDelay
	}
	if retry > 10 {
		retry = 10
	}

	base := float64(baseDelay)
	upper := base * Pow(3.0, retry)

	maxFloat := float64(maxDelay)
	if upper > maxFloat || upper < 0 {
		upper = maxFloat
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Pow calculates base^exponent using integer exponentiation.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
