package execution

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
)

// RetryConfig controls the jittered exponential backoff used around
// exchange REST calls, grounded on the `sawpanic-cryptorun` manifest's
// sony/gobreaker dependency, wired here for exactly the purpose its go.mod
// implies: wrapping outbound exchange calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig mirrors spec.md §7's "retry with jittered exponential
// backoff" for transient network errors.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 4,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// Retryable marks an error as eligible for backoff-retry (rate-limit or
// transient network) per spec.md §7's exchange_rejected propagation note:
// "retried only for retryable reasons... otherwise surfaced."
type Retryable struct{ Err error }

func (r Retryable) Error() string { return r.Err.Error() }
func (r Retryable) Unwrap() error { return r.Err }

// NewCircuitBreaker returns a gobreaker.CircuitBreaker pre-configured for
// exchange calls: trips after 5 consecutive failures, half-opens after 30s.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return gobreaker.NewCircuitBreaker(st)
}

// WithRetry runs fn through the circuit breaker with jittered exponential
// backoff on Retryable errors, surfacing the error unmodified once
// MaxAttempts is exhausted (the order then becomes exchange_timeout per
// spec.md §7, decided by the caller).
func WithRetry(ctx context.Context, cb *gobreaker.CircuitBreaker, cfg RetryConfig, fn func(ctx context.Context) (any, error)) (any, error) {
	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := cb.Execute(func() (any, error) { return fn(ctx) })
		if err == nil {
			return result, nil
		}
		lastErr = err
		var retryable Retryable
		if !errors.As(err, &retryable) {
			return nil, err // not retryable: surface immediately
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitter(delay)):
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return nil, lastErr
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}
