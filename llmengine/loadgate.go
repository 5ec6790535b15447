package llmengine

import (
	"context"
	"sync"
	"time"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/logging"
)

// LoadGate holds requests that prefer the local engine while its model
// is still loading, instead of failing them outright. Callers wait up
// to waitTimeout for the engine to report ready; the number of
// concurrent waiters is bounded, and overflow or timeout produces a
// model_loading error carrying the current queue depth.
type LoadGate struct {
	client       *Client
	maxQueue     int
	waitTimeout  time.Duration
	pollInterval time.Duration
	logger       logging.Logger

	mu      sync.Mutex
	waiting int
}

// GateOption configures a LoadGate.
type GateOption func(*LoadGate)

func WithGateQueueDepth(n int) GateOption {
	return func(g *LoadGate) { g.maxQueue = n }
}

func WithGateWaitTimeout(d time.Duration) GateOption {
	return func(g *LoadGate) { g.waitTimeout = d }
}

func WithGatePollInterval(d time.Duration) GateOption {
	return func(g *LoadGate) { g.pollInterval = d }
}

func WithGateLogger(l logging.Logger) GateOption {
	return func(g *LoadGate) {
		if cal, ok := l.(logging.ComponentAwareLogger); ok {
			g.logger = cal.WithComponent("llmengine/loadgate")
			return
		}
		g.logger = l
	}
}

// NewLoadGate builds a LoadGate over client with a 10-deep queue, a 30s
// wait budget, and a 1s readiness poll.
func NewLoadGate(client *Client, opts ...GateOption) *LoadGate {
	g := &LoadGate{
		client:       client,
		maxQueue:     10,
		waitTimeout:  30 * time.Second,
		pollInterval: time.Second,
		logger:       logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// QueueDepth reports how many callers are currently parked in Wait.
func (g *LoadGate) QueueDepth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}

func (g *LoadGate) loadingError(depth int, msg string) error {
	return &apperrors.Error{
		Kind:       apperrors.KindModelLoading,
		Message:    msg,
		QueueDepth: depth,
	}
}

// Wait returns nil as soon as the engine reports a non-loading status.
// If the model is loading, the caller joins the bounded queue and polls
// until readiness, the wait budget, or ctx expires. A health-probe
// failure is not treated as loading: the breaker-wrapped call that
// follows will surface the real upstream error.
func (g *LoadGate) Wait(ctx context.Context) error {
	res, err := g.client.Health(ctx)
	if err != nil || res.Status != StatusLoading {
		return nil
	}

	g.mu.Lock()
	if g.waiting >= g.maxQueue {
		depth := g.waiting
		g.mu.Unlock()
		return g.loadingError(depth, "model loading and wait queue is full")
	}
	g.waiting++
	depth := g.waiting
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.waiting--
		g.mu.Unlock()
	}()

	g.logger.InfoWithContext(ctx, "model loading, request queued", logging.Fields{"queue_depth": depth})

	deadline := time.NewTimer(g.waitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return g.loadingError(g.QueueDepth(), "request cancelled while model was loading")
		case <-deadline.C:
			return g.loadingError(g.QueueDepth(), "model still loading after wait budget")
		case <-ticker.C:
			res, err := g.client.Health(ctx)
			if err != nil {
				continue
			}
			if res.Status != StatusLoading {
				return nil
			}
		}
	}
}
