// Package session implements the multi-turn session manager: a
// KV-backed, TTL-refreshed conversation state that dedupes retrieval
// hits across turns and optionally asks the local LLM for follow-up
// suggestions. Sessions live in Redis as JSON blobs; the manager keeps
// no in-process copy, and without a KV client every Load starts a
// fresh session.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/kvstore"
	"github.com/itsneelabh/hybrid-coordinator/llmengine"
	"github.com/itsneelabh/hybrid-coordinator/logging"
	"github.com/itsneelabh/hybrid-coordinator/query"
	"github.com/itsneelabh/hybrid-coordinator/vectorstore"
)

// Level is one of the three disclosure levels.
type Level string

const (
	LevelStandard      Level = "standard"
	LevelDetailed      Level = "detailed"
	LevelComprehensive Level = "comprehensive"
)

// levelSpec is the (collections-count, hits-per-collection, detail
// format) triple a Level expands to.
type levelSpec struct {
	numCollections int
	hitsPerColl    int
	detail         query.DetailLevel
}

var levelSpecs = map[Level]levelSpec{
	LevelStandard:      {numCollections: 2, hitsPerColl: 3, detail: query.DetailConcise},
	LevelDetailed:      {numCollections: 3, hitsPerColl: 5, detail: query.DetailFull},
	LevelComprehensive: {numCollections: 5, hitsPerColl: 10, detail: query.DetailVerbose},
}

// defaultCollectionOrder is searched front-to-back; a Level's
// numCollections picks a prefix of it.
var defaultCollectionOrder = []string{
	vectorstore.CollectionCodebaseContext,
	vectorstore.CollectionErrorSolutions,
	vectorstore.CollectionSkillsPatterns,
	vectorstore.CollectionBestPractices,
	vectorstore.CollectionInteractionHistory,
}

// Session mirrors the data model's Session entity.
type Session struct {
	ID                 string    `json:"id"`
	CreatedAt          time.Time `json:"created_at"`
	LastAccessed       time.Time `json:"last_accessed"`
	Queries            []string  `json:"queries"`
	ContextItemIDsSent []string  `json:"context_item_ids_sent"`
	TotalTokensSent    int       `json:"total_tokens_sent"`
	TurnCount          int       `json:"turn_count"`
	Metadata           map[string]interface{} `json:"metadata"`
}

// Result is what a turn returns to the caller.
type Result struct {
	Context             string   `json:"context"`
	ContextIDs          []string `json:"context_ids"`
	Suggestions         []string `json:"suggestions,omitempty"`
	TokenCount          int      `json:"token_count"`
	CollectionsSearched []string `json:"collections_searched"`
	SessionID           string   `json:"session_id"`
	TurnNumber          int      `json:"turn_number"`
}

// Manager is the session manager: KV-backed storage with a
// refresh-on-access TTL, wrapping a query.Pipeline for retrieval.
type Manager struct {
	kv       *kvstore.Client
	pipeline *query.Pipeline
	llm      *llmengine.Client
	ttl      time.Duration
	logger   logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		if cal, ok := l.(logging.ComponentAwareLogger); ok {
			m.logger = cal.WithComponent("session/manager")
			return
		}
		m.logger = l
	}
}

// New creates a Manager. ttl is the session TTL (default 1 hour),
// refreshed on every access.
func New(kv *kvstore.Client, pipeline *query.Pipeline, llm *llmengine.Client, ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	m := &Manager{kv: kv, pipeline: pipeline, llm: llm, ttl: ttl, logger: logging.NoOpLogger{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sessionKey(id string) string { return "session:" + id }

// Load fetches a session by id, creating a fresh one if it doesn't
// exist or has expired. The returned session's TTL is NOT refreshed
// here; refresh happens when the turn is persisted, so a pure read
// never extends a session's life.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if m.kv != nil {
		v, ok, err := m.kv.Get(ctx, sessionKey(id))
		if err != nil {
			return nil, err
		}
		if ok {
			var s Session
			if err := json.Unmarshal([]byte(v), &s); err == nil {
				return &s, nil
			}
		}
	}
	now := time.Now()
	return &Session{ID: id, CreatedAt: now, LastAccessed: now, Metadata: map[string]interface{}{}}, nil
}

func (m *Manager) save(ctx context.Context, s *Session) error {
	if m.kv == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return apperrors.New("session.save", apperrors.KindInternal, err)
	}
	return m.kv.Set(ctx, sessionKey(s.ID), string(data), m.ttl)
}

// Clear deletes a session; clearing an unknown session is a no-op.
func (m *Manager) Clear(ctx context.Context, id string) error {
	if m.kv == nil {
		return nil
	}
	return m.kv.Del(ctx, sessionKey(id))
}

// TurnRequest is one multi-turn query.
type TurnRequest struct {
	SessionID         string
	Query             string
	Level             Level
	MaxTokens         int
	EscalationEnabled bool
}

// Turn loads (or creates) the session, searches with the level's
// collection/hit-count/detail profile, drops any hit whose id already
// appears in the session's history (cross-turn dedupe), truncates to
// MaxTokens, appends new ids, bumps
// turn_count, persists, and — skipping the very first turn — asks the
// local LLM for 2-3 follow-up suggestions.
func (m *Manager) Turn(ctx context.Context, req TurnRequest) (*Result, error) {
	if req.Query == "" {
		return nil, apperrors.Newf(apperrors.KindValidation, "query must not be empty")
	}
	spec, ok := levelSpecs[req.Level]
	if !ok {
		spec = levelSpecs[LevelStandard]
		req.Level = LevelStandard
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 2000
	}

	s, err := m.Load(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	isFirstTurn := s.TurnCount == 0
	s.Queries = append(s.Queries, req.Query)

	collections := defaultCollectionOrder
	if spec.numCollections < len(collections) {
		collections = collections[:spec.numCollections]
	}

	pipelineResp, err := m.pipeline.Run(ctx, buildPipelineRequest(s, req, spec, collections))
	if err != nil {
		return nil, err
	}

	var suggestions []string
	if !isFirstTurn && m.llm != nil {
		suggestions = m.followUpSuggestions(ctx, req.Query, pipelineResp.Context)
	}

	s.ContextItemIDsSent = append(s.ContextItemIDsSent, pipelineResp.ContextIDs...)
	s.TotalTokensSent += pipelineResp.TokenCount
	s.TurnCount++
	s.LastAccessed = time.Now()

	if err := m.save(ctx, s); err != nil {
		m.logger.WarnWithContext(ctx, "session persist failed", logging.Fields{"error": err.Error()})
	}

	return &Result{
		Context:             pipelineResp.Context,
		ContextIDs:          pipelineResp.ContextIDs,
		Suggestions:         suggestions,
		TokenCount:          pipelineResp.TokenCount,
		CollectionsSearched: pipelineResp.CollectionsSearched,
		SessionID:           s.ID,
		TurnNumber:          s.TurnCount,
	}, nil
}

// buildPipelineRequest assembles the query.Request for a turn,
// forwarding the session's already-sent ids as ExcludeIDs so the
// pipeline drops them before rerank/assembly ever sees them.
func buildPipelineRequest(s *Session, req TurnRequest, spec levelSpec, collections []string) query.Request {
	return query.Request{
		Query:             req.Query,
		ExpansionMode:     query.ExpansionKeyword,
		Collections:       collections,
		LimitPerSearch:    uint64(spec.hitsPerColl),
		TopK:              spec.hitsPerColl * len(collections),
		DetailLevel:       spec.detail,
		TokenBudget:       req.MaxTokens,
		EscalationEnabled: req.EscalationEnabled,
		ExcludeIDs:        s.ContextItemIDsSent,
	}
}

func (m *Manager) followUpSuggestions(ctx context.Context, query, context string) []string {
	resp, err := m.llm.Chat(ctx, llmengine.ChatRequest{
		Messages: []llmengine.ChatMessage{
			{Role: "system", Content: "Suggest 2-3 short natural follow-up questions the user might ask next, one per line, no numbering."},
			{Role: "user", Content: "Query: " + query + "\nContext used:\n" + context},
		},
		Temperature: 0.4,
		MaxTokens:   150,
	})
	if err != nil {
		return nil
	}
	var out []string
	for _, line := range splitLines(resp.Content) {
		if line != "" {
			out = append(out, line)
		}
		if len(out) >= 3 {
			break
		}
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, trimSpace(s[start:i]))
			start = i + 1
		}
	}
	lines = append(lines, trimSpace(s[start:]))
	return lines
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}
