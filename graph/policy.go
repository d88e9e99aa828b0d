package graph

import (
	"math/rand"
	"time"
)

// NodePolicy configures execution behavior for a single node: its timeout
// budget and retry strategy. Nodes without a policy run with
// Options.DefaultNodeTimeout and no retries.
type NodePolicy struct {
	// Timeout is the maximum execution time for one attempt of this node.
	// Zero means Options.DefaultNodeTimeout.
	Timeout time.Duration

	// Retry specifies automatic retry behavior for transient failures.
	// Nil means no retries.
	Retry *RetryPolicy
}

// RetryPolicy defines automatic retry for transient node failures.
//
// When an attempt fails, the policy decides whether the failure is
// retryable and how long to wait. Exponential backoff with jitter avoids
// synchronized retry storms across concurrent runs.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Must be >= 1; 1 means no retries.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff:
	// delay = min(BaseDelay * 2^attempt, MaxDelay) + jitter(0, BaseDelay).
	BaseDelay time.Duration

	// MaxDelay caps the exponential component.
	MaxDelay time.Duration

	// Retryable decides whether an error warrants another attempt.
	// Nil means no error is retryable.
	Retryable func(error) bool
}

// shouldRetry reports whether another attempt is allowed for err after the
// given zero-based attempt number.
func (p *RetryPolicy) shouldRetry(attempt int, err error) bool {
	if p == nil || err == nil {
		return false
	}
	if attempt+1 >= p.MaxAttempts {
		return false
	}
	if p.Retryable == nil {
		return false
	}
	return p.Retryable(err)
}

// computeBackoff calculates the delay before the next attempt using
// exponential backoff with jitter:
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// attempt is zero-based (0 = delay before the first retry).
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}

	exponential := base * (1 << attempt)
	if exponential > maxDelay || exponential <= 0 {
		exponential = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry jitter, not security
	}

	return exponential + jitter
}
