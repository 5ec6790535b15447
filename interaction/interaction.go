// Package interaction implements the interaction tracker: it records
// every completed query/response exchange, computes a bounded value
// score from five weighted factors, and, once that score crosses the
// promotion threshold, triggers pattern extraction and updates the
// success-rate of every context item that fed the answer.
package interaction

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/logging"
	"github.com/itsneelabh/hybrid-coordinator/vectorstore"
)

// AgentType distinguishes the requesting agent class.
type AgentType string

const (
	AgentLocal  AgentType = "local"
	AgentRemote AgentType = "remote"
)

// Outcome is the interaction's final disposition.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Interaction mirrors the data model's Interaction entity.
type Interaction struct {
	ID            string
	Query         string
	Response      string
	AgentType     AgentType
	Model         string
	ContextIDs    []string
	Outcome       Outcome
	Feedback      int // -1, 0, +1
	Tokens        int
	LatencyMS     int64
	CreatedAt     time.Time
	ValueScore    float64
}

// PatternExtractor is invoked for interactions that cross the
// promotion threshold (value_score >= 0.7). It is an interface rather
// than a direct dependency on the query package's pattern store, to
// keep interaction <-> pattern references acyclic: patterns point to
// a representative interaction id, never the other way around.
type PatternExtractor interface {
	Extract(ctx context.Context, in Interaction) error
}

// EventEmitter emits a telemetry event for durable, append-only
// consumption by the continuous-learning pipeline.
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, payload map[string]interface{}) error
}

// Embedder generates one embedding per input text, used to embed the
// query text before upserting into interaction-history.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Tracker is the interaction tracker. Interactions are kept in-memory,
// keyed by id, and mirrored into the interaction-history vector
// collection for durability and cross-process visibility — the
// in-memory map is a cache; the vector store remains the shared
// source of truth and the map must tolerate being empty.
type Tracker struct {
	mu           sync.RWMutex
	interactions map[string]*Interaction

	vec       *vectorstore.Client
	embedder  Embedder
	extractor PatternExtractor
	events    EventEmitter
	logger    logging.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithEmbedder(e Embedder) Option             { return func(t *Tracker) { t.embedder = e } }
func WithPatternExtractor(p PatternExtractor) Option { return func(t *Tracker) { t.extractor = p } }
func WithEventEmitter(e EventEmitter) Option     { return func(t *Tracker) { t.events = e } }
func WithLogger(l logging.Logger) Option {
	return func(t *Tracker) {
		if cal, ok := l.(logging.ComponentAwareLogger); ok {
			t.logger = cal.WithComponent("interaction/tracker")
			return
		}
		t.logger = l
	}
}

func New(vec *vectorstore.Client, opts ...Option) *Tracker {
	t := &Tracker{
		interactions: make(map[string]*Interaction),
		vec:          vec,
		logger:       logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TrackInteraction records a completed query/response exchange and
// returns its newly minted id.
func (t *Tracker) TrackInteraction(ctx context.Context, query, response string, agentType AgentType, model string, contextIDs []string, outcome Outcome, feedback int, tokens int, latencyMS int64) (string, error) {
	if query == "" {
		return "", apperrors.Newf(apperrors.KindValidation, "query must not be empty")
	}

	in := &Interaction{
		ID:         uuid.NewString(),
		Query:      query,
		Response:   response,
		AgentType:  agentType,
		Model:      model,
		ContextIDs: append([]string(nil), contextIDs...),
		Outcome:    outcome,
		Feedback:   feedback,
		Tokens:     tokens,
		LatencyMS:  latencyMS,
		CreatedAt:  time.Now(),
	}
	in.ValueScore = ComputeValueScore(*in)

	t.mu.Lock()
	t.interactions[in.ID] = in
	t.mu.Unlock()

	if t.vec != nil && t.embedder != nil {
		vectors, err := t.embedder.Embed(ctx, []string{query})
		if err != nil {
			t.logger.WarnWithContext(ctx, "embedding failed, interaction kept in-memory only", logging.Fields{"error": err.Error()})
		} else if len(vectors) > 0 {
			_ = t.vec.Upsert(ctx, vectorstore.CollectionInteractionHistory, []vectorstore.Point{{
				ID:     in.ID,
				Vector: vectors[0],
				Payload: map[string]interface{}{
					"query":       query,
					"response":    response,
					"agent_type":  string(agentType),
					"model":       model,
					"outcome":     string(outcome),
					"value_score": in.ValueScore,
					"created_at":  in.CreatedAt.Format(time.RFC3339),
				},
			}})
		}
	}

	if t.events != nil {
		_ = t.events.Emit(ctx, "interaction_tracked", map[string]interface{}{
			"interaction_id": in.ID,
			"outcome":        string(outcome),
			"value_score":    in.ValueScore,
			"tokens":         tokens,
			"latency_ms":     latencyMS,
		})
	}

	return in.ID, nil
}

// UpdateOutcome sets an interaction's outcome/feedback, recomputes its
// value score, and — when the score crosses 0.7 — triggers pattern
// extraction and updates every fed context item's success rate. It is
// idempotent: calling it again with the same (outcome, feedback) leaves
// the value score unchanged and does not re-trigger promotion.
func (t *Tracker) UpdateOutcome(ctx context.Context, id string, outcome Outcome, feedback int) error {
	t.mu.Lock()
	in, ok := t.interactions[id]
	if !ok {
		t.mu.Unlock()
		return apperrors.Newf(apperrors.KindNotFound, "interaction %q not found", id)
	}

	alreadyPromoted := in.ValueScore >= 0.7
	unchanged := in.Outcome == outcome && in.Feedback == feedback

	in.Outcome = outcome
	in.Feedback = feedback
	in.ValueScore = ComputeValueScore(*in)
	promote := in.ValueScore >= 0.7 && !(unchanged && alreadyPromoted)
	contextIDs := append([]string(nil), in.ContextIDs...)
	snapshot := *in
	t.mu.Unlock()

	if promote {
		if t.extractor != nil {
			if err := t.extractor.Extract(ctx, snapshot); err != nil {
				t.logger.WarnWithContext(ctx, "pattern extraction failed", logging.Fields{"error": err.Error(), "interaction_id": id})
			}
		}
		success := outcome == OutcomeSuccess
		for _, cid := range contextIDs {
			t.updateContextSuccessRate(ctx, cid, success)
		}
	}

	return nil
}

// updateContextSuccessRate applies the EMA update r' = 0.9*r + 0.1*(1
// if success else 0) to a context item's success_rate field, across
// whichever of the five collections it lives in. It's best-effort:
// failures are logged, never propagated, so background maintenance
// never aborts the caller's flow.
func (t *Tracker) updateContextSuccessRate(ctx context.Context, contextID string, success bool) {
	if t.vec == nil {
		return
	}
	for _, collection := range vectorstore.AllCollections {
		hit, found, err := t.vec.GetByID(ctx, collection, contextID)
		if err != nil || !found {
			continue
		}
		rate, _ := hit.Payload["success_rate"].(float64)
		accessCount, _ := hit.Payload["access_count"].(float64)
		successCount, _ := hit.Payload["success_count"].(float64)
		failureCount, _ := hit.Payload["failure_count"].(float64)

		newRate := EMAUpdate(rate, success)
		accessCount++
		if success {
			successCount++
		} else {
			failureCount++
		}

		if len(hit.Vector) == 0 {
			// GetByID found the point but came back without a vector
			// (shouldn't happen since we always request one, but a
			// stale/partially-written point is possible); upserting
			// without one would wipe the embedding, so skip the counter
			// update rather than risk that.
			t.logger.WarnWithContext(ctx, "skipping success-rate update: point has no vector", logging.Fields{"collection": collection, "context_id": contextID})
			return
		}

		payload := hit.Payload
		payload["success_rate"] = newRate
		payload["access_count"] = accessCount
		payload["success_count"] = successCount
		payload["failure_count"] = failureCount
		payload["last_accessed"] = time.Now().Format(time.RFC3339)

		if err := t.vec.Upsert(ctx, collection, []vectorstore.Point{{ID: contextID, Vector: hit.Vector, Payload: payload}}); err != nil {
			t.logger.WarnWithContext(ctx, "success-rate upsert failed", logging.Fields{"error": err.Error(), "collection": collection, "context_id": contextID})
		}
		return
	}
}

// ComputeValueScore computes the five-factor value score, weights
// normalized to 1, bounded to [0, 1].
func ComputeValueScore(in Interaction) float64 {
	score := successBonus(in.Outcome) + feedbackBonus(in.Feedback) +
		0.2*reusabilityHeuristic(in.Query) +
		0.1*complexityHeuristic(in.Response) +
		0.1*noveltyPlaceholder()

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func successBonus(o Outcome) float64 {
	switch o {
	case OutcomeSuccess:
		return 0.4
	case OutcomePartial:
		return 0.2
	default:
		return 0
	}
}

func feedbackBonus(feedback int) float64 {
	switch feedback {
	case 1:
		return 0.2
	case 0:
		return 0.1
	default:
		return 0
	}
}

var reusableTerms = regexp.MustCompile(`(?i)\b(how to|how do i|what is|why does|best practice|pattern|general|always|every time)\b`)

// reusabilityHeuristic scores query wording that suggests the answer
// generalizes beyond this one occurrence (how-to / why / best-practice
// phrasing) higher than a narrowly specific one-off query.
func reusabilityHeuristic(query string) float64 {
	if reusableTerms.MatchString(query) {
		return 1.0
	}
	if len(strings.Fields(query)) <= 4 {
		return 0.5
	}
	return 0.6
}

var (
	enumerationRe = regexp.MustCompile(`(?m)^\s*(\d+\.|[-*])\s+`)
	codeBlockRe   = regexp.MustCompile("```")
)

// complexityHeuristic rewards structured answers: numbered/bulleted
// steps, fenced code blocks, and a response of non-trivial length.
func complexityHeuristic(response string) float64 {
	score := 0.0
	if len(enumerationRe.FindAllString(response, -1)) >= 3 {
		score += 0.6
	}
	if codeBlockRe.MatchString(response) {
		score += 0.4
	}
	if len(strings.Fields(response)) > 80 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// noveltyPlaceholder is a fixed 0.5 until a
// similarity-against-existing-patterns signal is wired in.
// TODO: derive novelty from similarity against stored patterns.
func noveltyPlaceholder() float64 { return 0.5 }

// EMAUpdate applies r' = 0.9*r + 0.1*(1 if success else 0).
func EMAUpdate(r float64, success bool) float64 {
	s := 0.0
	if success {
		s = 1.0
	}
	return math.Round((0.9*r+0.1*s)*1e9) / 1e9
}
