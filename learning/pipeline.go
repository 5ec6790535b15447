package learning

import (
	"context"
	"time"

	"github.com/itsneelabh/hybrid-coordinator/logging"
)

// Pipeline wires the ingester, extractor, and proposal generator into
// one background loop with a backpressure check. Failures never abort
// the loop: they are logged and the loop sleeps and retries.
type Pipeline struct {
	ingest    *Ingester
	extractor *Extractor
	proposals *ProposalGenerator
	issues    *IssueTracker
	logger    logging.Logger

	interval        time.Duration
	backoffInterval time.Duration
	thresholdBytes  int64

	paused bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) {
		if cal, ok := l.(logging.ComponentAwareLogger); ok {
			p.logger = cal.WithComponent("coordinator/learning")
			return
		}
		p.logger = l
	}
}

// WithIssueTracker wires an error-taxonomy recorder into the cycle; each
// pass normalizes and upserts task_failed/task_error events alongside
// the existing pattern-extraction and proposal-generation work.
func WithIssueTracker(t *IssueTracker) Option { return func(p *Pipeline) { p.issues = t } }

func WithInterval(d time.Duration) Option        { return func(p *Pipeline) { p.interval = d } }
func WithBackoffInterval(d time.Duration) Option { return func(p *Pipeline) { p.backoffInterval = d } }
func WithThresholdMB(mb int64) Option {
	return func(p *Pipeline) { p.thresholdBytes = mb * 1024 * 1024 }
}

// New creates a Pipeline from its three concerns.
func New(ingest *Ingester, extractor *Extractor, proposals *ProposalGenerator, opts ...Option) *Pipeline {
	p := &Pipeline{
		ingest:          ingest,
		extractor:       extractor,
		proposals:       proposals,
		logger:          logging.NoOpLogger{},
		interval:        30 * time.Second,
		backoffInterval: 5 * time.Minute,
		thresholdBytes:  100 * 1024 * 1024,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the background loop until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := p.interval
		if p.backpressured() {
			wait = p.backoffInterval
		} else if err := p.cycle(ctx); err != nil {
			p.logger.WarnWithContext(ctx, "learning cycle failed, backing off", logging.Fields{"error": err.Error()})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// backpressured is the backpressure check: pause when
// unprocessed telemetry bytes exceed the configured threshold, and log
// both the pause and the eventual resume transition.
func (p *Pipeline) backpressured() bool {
	pending := p.ingest.PendingBytes()
	over := pending > p.thresholdBytes

	if over && !p.paused {
		p.paused = true
		p.logger.Warn("learning pipeline pausing: telemetry backlog exceeds threshold", logging.Fields{"pending_bytes": pending})
	} else if !over && p.paused {
		p.paused = false
		p.logger.Info("learning pipeline resuming: telemetry backlog below threshold", logging.Fields{"pending_bytes": pending})
	}
	return over
}

// Proposals exposes the pipeline's proposal generator so the HTTP/MCP
// surface can apply an externally-submitted proposal through the same
// dedup ledger the background scan uses.
func (p *Pipeline) Proposals() *ProposalGenerator { return p.proposals }

// Extractor exposes the pipeline's pattern extractor so the HTTP surface
// can export the deduplicated dataset it writes.
func (p *Pipeline) Extractor() *Extractor { return p.extractor }

// RunOnce executes a single ingest -> extract -> propose cycle on
// demand, for callers that want an immediate pass instead of waiting on
// the background loop's interval (e.g. an operator-triggered reprocess).
func (p *Pipeline) RunOnce(ctx context.Context) error {
	return p.cycle(ctx)
}

// cycle runs one ingest -> extract -> propose iteration.
func (p *Pipeline) cycle(ctx context.Context) error {
	events, err := p.ingest.Poll()
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	stats, err := p.extractor.Extract(ctx, events)
	if err != nil {
		p.logger.WarnWithContext(ctx, "pattern extraction write failed, continuing batch", logging.Fields{"error": err.Error()})
	}
	p.logger.InfoWithContext(ctx, "pattern extraction batch complete", logging.Fields{
		"total": stats.Total, "duplicates": stats.Duplicates, "unique": stats.Unique,
	})

	proposals := p.proposals.Scan(events)
	if len(proposals) > 0 {
		p.logger.InfoWithContext(ctx, "optimization proposals generated", logging.Fields{"count": len(proposals)})
	}

	if err := p.issues.ScanEvents(ctx, events); err != nil {
		p.logger.WarnWithContext(ctx, "issue taxonomy upsert failed, continuing batch", logging.Fields{"error": err.Error()})
	}
	return nil
}
