package outbox

import "time"

const (
	defaultRetryBase = 2 * time.Second
	defaultRetryMax  = 5 * time.Minute
)

// RetryPolicy computes exponential backoff with a cap. Deterministic, no
// jitter; attempts counts prior failures before the current one.
type RetryPolicy struct {
	Base     time.Duration
	MaxDelay time.Duration
}

// NewRetryPolicy normalizes non-positive fields to the defaults.
func NewRetryPolicy(base, maxDelay time.Duration) RetryPolicy {
	if base <= 0 {
		base = defaultRetryBase
	}
	if maxDelay <= 0 {
		maxDelay = defaultRetryMax
	}
	return RetryPolicy{Base: base, MaxDelay: maxDelay}
}

// NextDelay returns min(Base * 2^attempts, MaxDelay).
func (p RetryPolicy) NextDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := p.Base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= p.MaxDelay || delay <= 0 {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
