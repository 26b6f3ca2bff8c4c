package workflow

import (
	"math/rand"
	"time"
)

// RetryPolicy defines automatic retry behavior for step failures within a
// run. The runner retries the run from the failed step; earlier steps
// short-circuit through their cached results, so a retry never repeats a
// completed side effect.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of invocations per step,
	// including the first. Must be >= 1; 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base for exponential backoff between attempts.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth. Zero means no cap.
	MaxDelay time.Duration

	// Retryable, when non-nil, classifies failures: returning false
	// fails the run immediately. Nil treats every non-permanent failure
	// as transient. Permanent() wrapping always wins over this
	// predicate.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the engine default: 3 attempts, exponential
// backoff from 500ms capped at 30s, all non-permanent failures retryable.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// Validate checks the policy's constraints: MaxAttempts >= 1, and MaxDelay
// (when set) must not undercut BaseDelay.
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// retryable reports whether the runner should retry after err, given the
// attempt count so far.
func (rp RetryPolicy) retryable(err error, attempts int) bool {
	if attempts >= rp.MaxAttempts {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	if rp.Retryable != nil && !rp.Retryable(err) {
		return false
	}
	return true
}

// backoff computes the delay before the next attempt using exponential
// backoff with jitter:
//
//	delay = min(base * 2^retry, maxDelay) + jitter(0, base)
//
// retry is zero-based (0 before the second attempt). The jitter term
// randomizes retry timing across concurrent runs to avoid synchronized
// retry storms against the same rate-limited collaborator.
func (rp RetryPolicy) backoff(retry int) time.Duration {
	base := rp.BaseDelay
	if base <= 0 {
		return 0
	}

	// Bit shift for 2^retry; clamp the shift so it cannot overflow.
	if retry > 30 {
		retry = 30
	}
	delay := base * (1 << retry)
	if rp.MaxDelay > 0 && delay > rp.MaxDelay {
		delay = rp.MaxDelay
	}

	// Jitter timing is not security-sensitive.
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404
	return delay + jitter
}
