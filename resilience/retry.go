package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
)

// RetryConfig configures retry behavior. It is translated into a
// backoff.ExponentialBackOff on each Retry call rather than hand-rolling
// the delay math.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig provides sensible defaults for an outbound HTTP
// dependency.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

func (c *RetryConfig) backoffPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.BackoffFactor
	if !c.JitterEnabled {
		b.RandomizationFactor = 0
	}
	return b
}

// Retry executes fn, retrying on error with exponential backoff up to
// config.MaxAttempts. Attempts stop early if ctx is cancelled or if fn
// returns an error that apperrors.IsRetryable classifies as permanent.
func Retry(ctx context.Context, config *RetryConfig, fn func(ctx context.Context) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	operation := func() (struct{}, error) {
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !apperrors.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(config.backoffPolicy()),
		backoff.WithMaxTries(uint(maxInt(config.MaxAttempts, 1))),
	)
	return err
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// RetryWithCircuitBreaker runs fn through both the breaker and the retry
// policy: each attempt is a single breaker.Call, so a breaker-open
// rejection is itself subject to (and usually terminates) the retry
// loop, matching how an open breaker should short-circuit further
// attempts rather than being retried into exhaustion.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func(ctx context.Context) error) error {
	return Retry(ctx, config, func(ctx context.Context) error {
		return cb.Call(ctx, fn)
	})
}
