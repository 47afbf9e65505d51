package store

import (
	"context"
	"errors"
	"time"
)

// DefaultRetryInterval is the fixed pause before reconnecting to a lost store.
const DefaultRetryInterval = 30 * time.Second

// RetryPolicy decides whether and when a failed store call is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// FixedRetryPolicy retries transient failures forever with a constant delay.
type FixedRetryPolicy struct {
	interval time.Duration
}

// NewFixedRetryPolicy builds a policy; non-positive intervals use DefaultRetryInterval.
func NewFixedRetryPolicy(interval time.Duration) *FixedRetryPolicy {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	return &FixedRetryPolicy{interval: interval}
}

// ShouldRetry decides whether the error is retryable. attempt is unbounded.
func (p *FixedRetryPolicy) ShouldRetry(err error, _ int) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return IsTransient(err)
}

// Backoff returns the wait duration before the next attempt.
func (p *FixedRetryPolicy) Backoff(int) time.Duration {
	return p.interval
}
