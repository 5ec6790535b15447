package query

import (
	"context"
	"time"

	"github.com/itsneelabh/hybrid-coordinator/llmengine"
	"github.com/itsneelabh/hybrid-coordinator/vectorstore"
)

// Route is the pipeline's local-vs-escalate routing decision.
type Route string

const (
	RouteLocal     Route = "local"
	RouteEscalate  Route = "escalate"
	RouteContextOnly Route = "context_only"
)

// Request is one query pipeline invocation.
type Request struct {
	Query             string
	ExpansionMode     ExpansionMode
	Collections       []string
	LimitPerSearch    uint64
	TopK              int
	DetailLevel       DetailLevel
	TokenBudget       int
	EscalationEnabled bool

	// ExcludeIDs drops hits with these ids before rerank/assembly, so a
	// caller tracking what it has already shown (the session manager's
	// cross-turn dedupe) never sees previously-sent content reappear
	// in Context, ContextIDs, or TokenCount.
	ExcludeIDs []string

	// MinScore drops hits scoring below it before rerank, for callers
	// that want a floor under what may enter the context window.
	MinScore float64
}

// Response is what the pipeline reports alongside the assembled
// context.
type Response struct {
	Context             string
	ContextIDs          []string
	TokenCount           int
	Confidence           float64
	Route                Route
	CollectionsSearched  []string
	ExpandedQueries      []string
}

// Pipeline wires expansion, hybrid search, rerank, and context
// assembly, with a confidence-threshold routing decision at the end.
type Pipeline struct {
	vec                 *vectorstore.Client
	llm                 *llmengine.Client
	ce                  CrossEncoder
	confidenceThreshold float64
}

// Vec exposes the pipeline's vector store client, for callers that need
// to run a search shape the Pipeline itself doesn't provide (e.g. the
// per-collection tree search).
func (p *Pipeline) Vec() *vectorstore.Client { return p.vec }

// LLM exposes the pipeline's LLM engine client, for the same reason as Vec.
func (p *Pipeline) LLM() *llmengine.Client { return p.llm }

// DefaultCollections returns the five fixed collections in their
// standard search order, for callers that don't specify one explicitly.
func DefaultCollections() []string {
	return []string{
		vectorstore.CollectionCodebaseContext,
		vectorstore.CollectionErrorSolutions,
		vectorstore.CollectionSkillsPatterns,
		vectorstore.CollectionBestPractices,
		vectorstore.CollectionInteractionHistory,
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithCrossEncoder(ce CrossEncoder) Option { return func(p *Pipeline) { p.ce = ce } }
func WithConfidenceThreshold(t float64) Option {
	return func(p *Pipeline) { p.confidenceThreshold = t }
}

// New creates a Pipeline with the default confidence threshold
// (0.85), overridable via WithConfidenceThreshold.
func New(vec *vectorstore.Client, llm *llmengine.Client, opts ...Option) *Pipeline {
	p := &Pipeline{vec: vec, llm: llm, confidenceThreshold: 0.85}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// excludeHits drops every hit whose id is in excludeIDs, before rerank
// and context assembly so the exclusion is never undone by truncation.
func excludeHits(hits []Hit, excludeIDs []string) []Hit {
	if len(excludeIDs) == 0 {
		return hits
	}
	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if !excluded[h.ID] {
			out = append(out, h)
		}
	}
	return out
}

// filterMinScore drops hits scoring below min; min <= 0 keeps everything.
func filterMinScore(hits []Hit, min float64) []Hit {
	if min <= 0 {
		return hits
	}
	kept := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= min {
			kept = append(kept, h)
		}
	}
	return kept
}

// Run executes the full pipeline for one query.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	if req.LimitPerSearch == 0 {
		req.LimitPerSearch = 10
	}
	if req.TopK == 0 {
		req.TopK = 5
	}
	if req.DetailLevel == "" {
		req.DetailLevel = DetailConcise
	}
	if req.TokenBudget == 0 {
		req.TokenBudget = 2000
	}

	queries := Expand(ctx, p.llm, req.Query, req.ExpansionMode)

	hits, err := HybridSearch(ctx, p.vec, p.llm, queries, req.Collections, req.LimitPerSearch)
	if err != nil {
		return nil, err
	}
	hits = excludeHits(hits, req.ExcludeIDs)
	hits = filterMinScore(hits, req.MinScore)

	reranked := Rerank(hits, req.TopK, p.ce, req.Query, time.Now())
	contextStr, ids, tokenCount := AssembleContext(reranked, req.DetailLevel, req.TokenBudget)

	confidence := 0.0
	if len(reranked) > 0 {
		confidence = reranked[0].Score
		if confidence > 1 {
			confidence = 1
		}
	}

	route := RouteEscalate
	switch {
	case confidence > p.confidenceThreshold:
		route = RouteLocal
	case !req.EscalationEnabled:
		route = RouteContextOnly
	}

	return &Response{
		Context:             contextStr,
		ContextIDs:          ids,
		TokenCount:          tokenCount,
		Confidence:          confidence,
		Route:               route,
		CollectionsSearched: req.Collections,
		ExpandedQueries:     queries,
	}, nil
}
