package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivenessHealthy(t *testing.T) {
	p := New("test")
	res := p.Liveness(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, CheckLiveness, res.CheckType)
}

func TestReadinessCriticalFailureIsUnhealthy(t *testing.T) {
	p := New("test")
	p.RegisterDependency(DependencyCheck{
		Name: "vectorstore", Critical: true,
		Check: func(ctx context.Context) error { return errors.New("down") },
	})
	p.RegisterDependency(DependencyCheck{
		Name: "llm", Critical: false,
		Check: func(ctx context.Context) error { return nil },
	})

	res := p.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
}

func TestReadinessNonCriticalFailureIsDegraded(t *testing.T) {
	p := New("test")
	p.RegisterDependency(DependencyCheck{
		Name: "vectorstore", Critical: true,
		Check: func(ctx context.Context) error { return nil },
	})
	p.RegisterDependency(DependencyCheck{
		Name: "llm", Critical: false,
		Check: func(ctx context.Context) error { return errors.New("slow") },
	})

	res := p.Readiness(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
}

func TestReadinessAllHealthy(t *testing.T) {
	p := New("test")
	p.RegisterDependency(DependencyCheck{
		Name: "vectorstore", Critical: true,
		Check: func(ctx context.Context) error { return nil },
	})
	res := p.Readiness(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, 1.0, res.Details["composite_score"])
}

func TestStartupLatchesOnSuccess(t *testing.T) {
	p := New("test")
	calls := 0
	p.RegisterStartupCheck(DependencyCheck{
		Name: "schema",
		Check: func(ctx context.Context) error {
			calls++
			return nil
		},
	})

	first := p.Startup(context.Background())
	second := p.Startup(context.Background())
	require.Equal(t, StatusHealthy, first.Status)
	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.Equal(t, 1, calls)
}

func TestPerformanceUnknownWithoutReader(t *testing.T) {
	p := New("test")
	res := p.Performance(context.Background())
	assert.Equal(t, StatusUnknown, res.Status)
}

type stubPerf struct{ cpu, mem, disk float64 }

func (s stubPerf) CPUPercent() (float64, error)  { return s.cpu, nil }
func (s stubPerf) MemPercent() (float64, error)  { return s.mem, nil }
func (s stubPerf) DiskPercent() (float64, error) { return s.disk, nil }

func TestPerformanceDegradesOverThreshold(t *testing.T) {
	p := New("test", WithPerformanceReader(stubPerf{cpu: 95, mem: 10, disk: 10}))
	res := p.Performance(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
}

func TestReadinessRunsConcurrently(t *testing.T) {
	p := New("test")
	for i := 0; i < 5; i++ {
		p.RegisterDependency(DependencyCheck{
			Name: "dep", Critical: false,
			Check: func(ctx context.Context) error {
				time.Sleep(50 * time.Millisecond)
				return nil
			},
		})
	}
	start := time.Now()
	p.Readiness(context.Background())
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
