package graph

import (
	"math/rand"
	"time"
)

// NodePolicy configures execution behavior for a specific node.
//
// Policies are attached with Engine.SetPolicy. Nodes without a policy use the
// engine defaults from Options.
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for this node.
	// If zero, Options.DefaultNodeTimeout is used.
	Timeout time.Duration

	// RetryPolicy re-runs the node when it fails with a retryable error.
	// If nil, the node runs once.
	RetryPolicy *RetryPolicy
}

// RetryPolicy defines bounded retry with exponential backoff and jitter.
//
// The same policy type drives node-level retries in the engine and
// call-level retries in the capability clients.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the first one.
	// Must be >= 1. A value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between attempts.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt.
	// If nil, no error is retried.
	Retryable func(error) bool
}

// Validate checks the policy constraints:
//   - MaxAttempts must be >= 1
//   - MaxDelay, when set together with BaseDelay, must be >= BaseDelay
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// ShouldRetry reports whether err, returned by attempt number attempt
// (1-based), should be followed by another attempt.
func (rp *RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if rp == nil || err == nil || rp.Retryable == nil {
		return false
	}
	if attempt >= rp.MaxAttempts {
		return false
	}
	return rp.Retryable(err)
}

// Backoff returns the delay before the attempt that follows attempt
// (1-based). rng may be nil.
func (rp *RetryPolicy) Backoff(attempt int, rng *rand.Rand) time.Duration {
	return ComputeBackoff(attempt-1, rp.BaseDelay, rp.MaxDelay, rng)
}

// ComputeBackoff calculates the delay before a retry:
//
//	delay = min(base * 2^retry, maxDelay) + jitter(0, base)
//
// retry is zero-based (0 for the first retry). The jitter spreads concurrent
// retries so callers sharing a rate limit do not retry in lockstep.
//
// Example delays with base=1s, maxDelay=10s:
//   - retry 0: 1-2s
//   - retry 1: 2-3s
//   - retry 2: 4-5s
//   - retry 4: 10-11s (capped)
func ComputeBackoff(retry int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if retry < 0 {
		retry = 0
	}
	if retry > 30 {
		retry = 30
	}

	exponentialDelay := base * (1 << retry)
	if maxDelay > 0 && exponentialDelay > maxDelay {
		exponentialDelay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}

	return exponentialDelay + jitter
}
