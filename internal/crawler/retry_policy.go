package crawler

import (
	"math"
	"time"
)

// maxBackoff is where doubling saturates instead of overflowing.
const maxBackoff = time.Duration(math.MaxInt64)

// ExponentialRetryPolicy computes deterministic doubling delays.
type ExponentialRetryPolicy struct {
	maxRetries   int
	initialDelay time.Duration
}

// NewExponentialRetryPolicy builds a policy allowing maxRetries failures.
func NewExponentialRetryPolicy(maxRetries int, initialDelay time.Duration) *ExponentialRetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if initialDelay < 0 {
		initialDelay = 0
	}
	return &ExponentialRetryPolicy{maxRetries: maxRetries, initialDelay: initialDelay}
}

// MaxRetries returns the configured retry budget.
func (p *ExponentialRetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// Exhausted reports whether failures has reached the retry budget.
func (p *ExponentialRetryPolicy) Exhausted(failures int) bool {
	return failures >= p.maxRetries
}

// Backoff returns the delay before the n-th retry: initial * 2^(n-1),
// saturating at the largest representable duration. n < 1 means no retry has
// happened yet and yields zero.
func (p *ExponentialRetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.initialDelay == 0 {
		return 0
	}
	shift := n - 1
	if shift >= 63 || p.initialDelay > maxBackoff>>uint(shift) {
		return maxBackoff
	}
	return p.initialDelay << uint(shift)
}
