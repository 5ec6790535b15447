package llmengine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
)

func TestLoadGatePassesWhenEngineReady(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(HealthResult{Status: StatusOK})
	})
	defer closeSrv()

	g := NewLoadGate(c)
	require.NoError(t, g.Wait(context.Background()))
	assert.Equal(t, 0, g.QueueDepth())
}

func TestLoadGateWaitsUntilReady(t *testing.T) {
	var probes int64
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&probes, 1) < 3 {
			json.NewEncoder(w).Encode(HealthResult{Status: StatusLoading})
			return
		}
		json.NewEncoder(w).Encode(HealthResult{Status: StatusOK})
	})
	defer closeSrv()

	g := NewLoadGate(c, WithGatePollInterval(5*time.Millisecond), WithGateWaitTimeout(time.Second))
	require.NoError(t, g.Wait(context.Background()))
	assert.GreaterOrEqual(t, atomic.LoadInt64(&probes), int64(3))
}

func TestLoadGateTimesOutWithModelLoadingError(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(HealthResult{Status: StatusLoading})
	})
	defer closeSrv()

	g := NewLoadGate(c, WithGatePollInterval(5*time.Millisecond), WithGateWaitTimeout(20*time.Millisecond))
	err := g.Wait(context.Background())
	require.Error(t, err)
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.KindModelLoading, appErr.Kind)
}

func TestLoadGateRejectsOnQueueOverflow(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(HealthResult{Status: StatusLoading})
	})
	defer closeSrv()

	g := NewLoadGate(c, WithGateQueueDepth(0))
	err := g.Wait(context.Background())
	require.Error(t, err)
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.KindModelLoading, appErr.Kind)
	assert.Equal(t, 0, appErr.QueueDepth)
}

func TestLoadGateIgnoresProbeFailures(t *testing.T) {
	c := New("http://127.0.0.1:1", "m", nil)
	g := NewLoadGate(c)
	// an unreachable engine is the breaker's problem, not the gate's
	require.NoError(t, g.Wait(context.Background()))
}
