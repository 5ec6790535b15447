package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
)

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   4,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterEnabled: false,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	permanent := apperrors.Newf(apperrors.KindValidation, "bad request")
	err := Retry(context.Background(), fastRetryConfig(), func(context.Context) error {
		attempts++
		return permanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustsMaxAttempts(t *testing.T) {
	attempts := 0
	boom := errors.New("always fails")
	err := Retry(context.Background(), fastRetryConfig(), func(context.Context) error {
		attempts++
		return boom
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	cfg := fastRetryConfig()
	cfg.MaxAttempts = 100

	err := Retry(ctx, cfg, func(context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("still failing")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 3)
}

func TestRetryWithCircuitBreakerStopsRetryingOnceOpen(t *testing.T) {
	cb := New(&Config{Name: "svc", FailureThreshold: 1, RecoveryTimeout: time.Hour, SuccessThreshold: 1})
	calls := 0
	err := RetryWithCircuitBreaker(context.Background(), fastRetryConfig(), cb, func(context.Context) error {
		calls++
		return errors.New("dependency down")
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
	// First call opens the breaker; subsequent retries are rejected by
	// the breaker rather than re-invoking fn.
	assert.Equal(t, 1, calls)
}
