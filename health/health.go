// Package health implements the five-probe health subsystem shared by
// every service in the coordination plane: liveness, readiness,
// startup, dependency, and performance checks, each emitting a
// Prometheus counter/histogram/gauge triple. Dependency checks run
// concurrently via golang.org/x/sync/errgroup with per-check
// timeouts.
package health

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/itsneelabh/hybrid-coordinator/logging"
)

// Status is one of the four probe outcomes.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// CheckType identifies which of the five probes produced a Result.
type CheckType string

const (
	CheckLiveness    CheckType = "liveness"
	CheckReadiness   CheckType = "readiness"
	CheckStartup     CheckType = "startup"
	CheckDependency  CheckType = "dependency"
	CheckPerformance CheckType = "performance"
)

// Result is the shape every probe returns.
type Result struct {
	Status     Status                 `json:"status"`
	CheckType  CheckType              `json:"check_type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	DurationMS int64                  `json:"duration_ms"`
}

// DependencyCheck is one registered dependency the readiness/dependency
// probes verify. Critical dependencies failing mark readiness
// unhealthy; non-critical ones only degrade it. Weight contributes to
// the composite readiness score.
type DependencyCheck struct {
	Name     string
	Critical bool
	Weight   float64
	Timeout  time.Duration
	Check    func(ctx context.Context) error
}

// PerformanceReader supplies the process/service counters the
// performance probe evaluates against its thresholds. A nil reader
// makes the performance probe report unknown rather than healthy, so
// an unwired Prober never silently lies about resource pressure.
type PerformanceReader interface {
	CPUPercent() (float64, error)
	MemPercent() (float64, error)
	DiskPercent() (float64, error)
}

// Thresholds are the performance probe's degrade-at levels.
type Thresholds struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{CPUPercent: 80, MemPercent: 85, DiskPercent: 90}
}

// metrics is the Prometheus counter/histogram/gauge triple every probe
// updates, labeled by service and check type.
type metrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	status   *prometheus.GaugeVec
}

func newMetrics(service string, reg prometheus.Registerer) *metrics {
	m := &metrics{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hybrid_coordinator",
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total number of health checks performed.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"check_type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "hybrid_coordinator",
			Subsystem:   "health",
			Name:        "check_duration_seconds",
			Help:        "Duration of health checks in seconds.",
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     prometheus.DefBuckets,
		}, []string{"check_type"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "hybrid_coordinator",
			Subsystem:   "health",
			Name:        "status",
			Help:        "1 if the most recent check of this type was healthy, else 0.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"check_type"}),
	}
	if reg != nil {
		reg.MustRegister(m.total, m.duration, m.status)
	}
	return m
}

func (m *metrics) observe(checkType CheckType, status Status, d time.Duration) {
	m.total.WithLabelValues(string(checkType), string(status)).Inc()
	m.duration.WithLabelValues(string(checkType)).Observe(d.Seconds())
	v := 0.0
	if status == StatusHealthy {
		v = 1.0
	}
	m.status.WithLabelValues(string(checkType)).Set(v)
}

// Prober runs the five probes for one service instance.
type Prober struct {
	service    string
	logger     logging.Logger
	metrics    *metrics
	thresholds Thresholds
	perf       PerformanceReader

	mu    sync.RWMutex
	deps  []DependencyCheck
	boot  []DependencyCheck

	startupMu       sync.Mutex
	startupComplete bool
	startupResult   Result
}

// Option configures a Prober.
type Option func(*Prober)

func WithLogger(l logging.Logger) Option {
	return func(p *Prober) {
		if cal, ok := l.(logging.ComponentAwareLogger); ok {
			p.logger = cal.WithComponent("health/prober")
			return
		}
		p.logger = l
	}
}

func WithThresholds(t Thresholds) Option     { return func(p *Prober) { p.thresholds = t } }
func WithPerformanceReader(r PerformanceReader) Option {
	return func(p *Prober) { p.perf = r }
}
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Prober) { p.metrics = newMetrics(p.service, reg) }
}

// New creates a Prober for service, registering Prometheus collectors
// against reg (pass prometheus.DefaultRegisterer, or nil to skip
// registration, e.g. in tests that construct multiple Probers).
func New(service string, opts ...Option) *Prober {
	p := &Prober{
		service:    service,
		logger:     logging.NoOpLogger{},
		thresholds: DefaultThresholds(),
	}
	p.metrics = newMetrics(service, nil)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterDependency adds a check the readiness/dependency probes run.
func (p *Prober) RegisterDependency(d DependencyCheck) {
	if d.Timeout <= 0 {
		d.Timeout = 5 * time.Second
	}
	if d.Weight <= 0 {
		d.Weight = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deps = append(p.deps, d)
}

// RegisterStartupCheck adds a one-shot bootstrap verification (schema
// exists, required collections exist) the startup probe runs exactly
// once.
func (p *Prober) RegisterStartupCheck(d DependencyCheck) {
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boot = append(p.boot, d)
}

func (p *Prober) record(ct CheckType, status Status, msg string, details map[string]interface{}, start time.Time) Result {
	d := time.Since(start)
	p.metrics.observe(ct, status, d)
	return Result{
		Status:     status,
		CheckType:  ct,
		Message:    msg,
		Details:    details,
		Timestamp:  time.Now(),
		DurationMS: d.Milliseconds(),
	}
}

// Liveness is a trivial responsiveness check: it must complete in under
// a second and only fails on deadlock/timeout of the context itself.
func (p *Prober) Liveness(ctx context.Context) Result {
	start := time.Now()
	select {
	case <-ctx.Done():
		return p.record(CheckLiveness, StatusUnhealthy, "liveness check timed out", nil, start)
	default:
		return p.record(CheckLiveness, StatusHealthy, "alive", nil, start)
	}
}

type depOutcome struct {
	name     string
	critical bool
	weight   float64
	err      error
}

func (p *Prober) runDeps(ctx context.Context, checks []DependencyCheck) []depOutcome {
	outcomes := make([]depOutcome, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range checks {
		i, d := i, d
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, d.Timeout)
			defer cancel()
			var err error
			if d.Check != nil {
				err = d.Check(cctx)
			}
			outcomes[i] = depOutcome{name: d.Name, critical: d.Critical, weight: d.Weight, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Readiness runs every registered dependency check concurrently. Any
// critical failure yields unhealthy; any non-critical failure (with all
// criticals passing) yields degraded; otherwise healthy. The composite
// score is sum(weight*healthy)/sum(weight).
func (p *Prober) Readiness(ctx context.Context) Result {
	start := time.Now()
	p.mu.RLock()
	checks := append([]DependencyCheck(nil), p.deps...)
	p.mu.RUnlock()

	outcomes := p.runDeps(ctx, checks)

	status := StatusHealthy
	var totalWeight, healthyWeight float64
	details := make(map[string]interface{}, len(outcomes))
	for _, o := range outcomes {
		totalWeight += o.weight
		if o.err == nil {
			healthyWeight += o.weight
			details[o.name] = "healthy"
			continue
		}
		details[o.name] = o.err.Error()
		if o.critical {
			status = StatusUnhealthy
		} else if status != StatusUnhealthy {
			status = StatusDegraded
		}
	}
	score := 1.0
	if totalWeight > 0 {
		score = healthyWeight / totalWeight
	}
	details["composite_score"] = score

	msg := "all dependencies healthy"
	if status == StatusDegraded {
		msg = "one or more non-critical dependencies unhealthy"
	} else if status == StatusUnhealthy {
		msg = "a critical dependency is unhealthy"
	}
	return p.record(CheckReadiness, status, msg, details, start)
}

// Dependency mirrors Readiness but collapses straight to unhealthy on
// any failure, critical or not — it answers "can every collaborator be
// reached right now", not "is the service still serviceable".
func (p *Prober) Dependency(ctx context.Context) Result {
	start := time.Now()
	p.mu.RLock()
	checks := append([]DependencyCheck(nil), p.deps...)
	p.mu.RUnlock()

	outcomes := p.runDeps(ctx, checks)
	status := StatusHealthy
	details := make(map[string]interface{}, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil {
			status = StatusUnhealthy
			details[o.name] = o.err.Error()
		} else {
			details[o.name] = "healthy"
		}
	}
	msg := "all dependencies reachable"
	if status == StatusUnhealthy {
		msg = "one or more dependencies unreachable"
	}
	return p.record(CheckDependency, status, msg, details, start)
}

// Startup runs the registered bootstrap checks exactly once, latching
// the outcome; subsequent calls return the cached result without
// re-running anything.
func (p *Prober) Startup(ctx context.Context) Result {
	p.startupMu.Lock()
	defer p.startupMu.Unlock()
	if p.startupComplete {
		return p.startupResult
	}

	start := time.Now()
	p.mu.RLock()
	checks := append([]DependencyCheck(nil), p.boot...)
	p.mu.RUnlock()

	outcomes := p.runDeps(ctx, checks)
	status := StatusHealthy
	details := make(map[string]interface{}, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil {
			status = StatusUnhealthy
			details[o.name] = o.err.Error()
		} else {
			details[o.name] = "ready"
		}
	}
	msg := "startup complete"
	if status == StatusUnhealthy {
		msg = "startup verification failed"
	}
	result := p.record(CheckStartup, status, msg, details, start)
	if status == StatusHealthy {
		p.startupComplete = true
		p.startupResult = result
	}
	return result
}

// Performance reads process CPU/RAM/disk via the configured
// PerformanceReader and degrades when any threshold is crossed.
func (p *Prober) Performance(ctx context.Context) Result {
	start := time.Now()
	if p.perf == nil {
		return p.record(CheckPerformance, StatusUnknown, "no performance reader configured", nil, start)
	}

	cpu, cpuErr := p.perf.CPUPercent()
	mem, memErr := p.perf.MemPercent()
	disk, diskErr := p.perf.DiskPercent()

	details := map[string]interface{}{
		"cpu_percent":  cpu,
		"mem_percent":  mem,
		"disk_percent": disk,
		"goroutines":   runtime.NumGoroutine(),
	}

	if cpuErr != nil || memErr != nil || diskErr != nil {
		return p.record(CheckPerformance, StatusUnknown, "performance counters unavailable", details, start)
	}

	status := StatusHealthy
	msg := "within thresholds"
	if cpu >= p.thresholds.CPUPercent || mem >= p.thresholds.MemPercent || disk >= p.thresholds.DiskPercent {
		status = StatusDegraded
		msg = "one or more resource thresholds exceeded"
	}
	return p.record(CheckPerformance, status, msg, details, start)
}
