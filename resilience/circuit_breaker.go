// Package resilience provides the cross-cutting resilience primitives
// shared by every outbound call in the coordination plane: circuit
// breaker, retry-with-backoff, and a sliding-window rate limiter.
// The breaker is a classic counted-threshold state machine — a
// consecutive run of failures opens it, a consecutive run of successes
// while half-open closes it — built around a Config, a pluggable
// ErrorClassifier and MetricsCollector, and a ComponentAwareLogger-aware
// logger binding.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/logging"
)

// State represents the circuit breaker's position in the
// closed → open → half-open state machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MetricsCollector records circuit breaker events; satisfied by the
// health subsystem's Prometheus triple.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string, errorType string)
	RecordStateChange(name, from, to string)
	RecordRejection(name string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSuccess(string)                      {}
func (noopMetrics) RecordFailure(string, string)              {}
func (noopMetrics) RecordStateChange(string, string, string) {}
func (noopMetrics) RecordRejection(string)                    {}

// ErrorClassifier decides whether an error counts toward the failure
// threshold. Errors for which it returns false pass through unaffected,
// distinguishing infrastructure failures from user/validation errors.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts every non-nil error as a failure except
// validation/not-found/unauthorized classes, which are caller mistakes
// rather than dependency health signals.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation, apperrors.KindUnauthorized, apperrors.KindInvalidAPIKey, apperrors.KindNotFound, apperrors.KindGone:
		return false
	default:
		return true
	}
}

// Config configures a single named CircuitBreaker instance. Two presets
// are provided by NewInferenceEngineConfig / NewDefaultServiceConfig for
// the two classes of dependency this plane talks to.
type Config struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	ErrorClassifier  ErrorClassifier
	Logger           logging.Logger
	Metrics          MetricsCollector
}

// NewDefaultServiceConfig returns the generic-HTTP-service defaults
// (failure_threshold=5, recovery=60s).
func NewDefaultServiceConfig(name string) *Config {
	return &Config{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
	}
}

// NewInferenceEngineConfig returns the local-LLM-engine defaults
// (failure_threshold=3, recovery=120s): loading the model is expensive,
// so the breaker opens sooner and waits longer before probing again.
func NewInferenceEngineConfig(name string) *Config {
	return &Config{
		Name:             name,
		FailureThreshold: 3,
		RecoveryTimeout:  120 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker is a mutex-serialized state machine fronting a single
// external dependency. State transitions for a given breaker are always
// serialized by its mutex, never inferred from concurrent callers.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int
	classifier       ErrorClassifier
	logger           logging.Logger
	metrics          MetricsCollector

	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// New creates a CircuitBreaker in the closed state.
func New(cfg *Config) *CircuitBreaker {
	if cfg == nil {
		cfg = NewDefaultServiceConfig("default")
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.ErrorClassifier == nil {
		cfg.ErrorClassifier = DefaultErrorClassifier
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	if cal, ok := cfg.Logger.(logging.ComponentAwareLogger); ok {
		cfg.Logger = cal.WithComponent("resilience/circuit_breaker")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout,
		successThreshold: cfg.SuccessThreshold,
		classifier:       cfg.ErrorClassifier,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		state:            StateClosed,
	}
}

// Name returns the breaker's identifying name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the breaker's current state, resolving an elapsed
// recovery timeout into half-open without requiring a Call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionToHalfOpenLocked()
	return cb.state
}

func (cb *CircuitBreaker) maybeTransitionToHalfOpenLocked() {
	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.recoveryTimeout {
		cb.setStateLocked(StateHalfOpen)
		cb.successCount = 0
	}
}

func (cb *CircuitBreaker) setStateLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.metrics.RecordStateChange(cb.name, from.String(), to.String())
	cb.logger.Info("circuit breaker state change", logging.Fields{
		"breaker": cb.name, "from": from.String(), "to": to.String(),
	})
}

// Call executes fn under circuit-breaker protection.
//
//   - open + recovery not elapsed  -> breaker-open error, fn not invoked.
//   - open + recovery elapsed      -> transition to half-open, invoke fn.
//   - half-open success            -> count toward success_threshold;
//     closing the breaker once reached.
//   - half-open failure            -> reopen immediately.
//   - closed failure                -> count toward failure_threshold;
//     opening the breaker once reached.
//
// Errors for which the configured ErrorClassifier returns false pass
// through without affecting breaker state at all.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	cb.mu.Lock()
	cb.maybeTransitionToHalfOpenLocked()

	if cb.state == StateOpen {
		retryAfter := cb.recoveryTimeout - time.Since(cb.lastFailureTime)
		cb.mu.Unlock()
		cb.metrics.RecordRejection(cb.name)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &apperrors.Error{
			Op:                fmt.Sprintf("circuit_breaker[%s]", cb.name),
			Kind:              apperrors.KindBreakerOpen,
			Message:           fmt.Sprintf("circuit breaker %q is open", cb.name),
			RetryAfterSeconds: int(retryAfter.Seconds()) + 1,
		}
	}
	cb.mu.Unlock()

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.classifier(err) {
		// Not a dependency-health signal (e.g. validation error); pass
		// through without touching breaker state.
		return err
	}

	if err != nil {
		cb.metrics.RecordFailure(cb.name, fmt.Sprintf("%T", err))
		cb.lastFailureTime = time.Now()
		switch cb.state {
		case StateHalfOpen:
			cb.setStateLocked(StateOpen)
			cb.failureCount = cb.failureThreshold
		case StateClosed:
			cb.failureCount++
			if cb.failureCount >= cb.failureThreshold {
				cb.setStateLocked(StateOpen)
			}
		}
		return err
	}

	cb.metrics.RecordSuccess(cb.name)
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setStateLocked(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
	return nil
}

// Reset forces the breaker back to closed, clearing its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setStateLocked(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
}

// Snapshot captures a breaker's observable state for reporting via
// /health and /status.
type Snapshot struct {
	Name            string
	State           string
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionToHalfOpenLocked()
	return Snapshot{
		Name:            cb.name,
		State:           cb.state.String(),
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Registry is the mutex-guarded collection of named breakers, held by
// the service container rather than as module-level globals.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// GetOrCreate returns the named breaker, creating it from cfg on first
// use. cfg is ignored on subsequent calls for the same name.
func (r *Registry) GetOrCreate(name string, cfg *Config) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	if cfg == nil {
		cfg = NewDefaultServiceConfig(name)
	}
	cfg.Name = name
	cb = New(cfg)
	r.breakers[name] = cb
	return cb
}

// Snapshot returns every registered breaker's state, keyed by name, for
// the /health endpoint's circuit_breakers map.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State().String()
	}
	return out
}

// AnyOpen reports whether any registered breaker matching names (or all,
// if names is empty) is currently open — used by the readiness probe to
// decide degraded vs. unhealthy.
func (r *Registry) AnyOpen(names ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	check := func(cb *CircuitBreaker) bool { return cb.State() == StateOpen }
	if len(names) == 0 {
		for _, cb := range r.breakers {
			if check(cb) {
				return true
			}
		}
		return false
	}
	for _, n := range names {
		if cb, ok := r.breakers[n]; ok && check(cb) {
			return true
		}
	}
	return false
}
