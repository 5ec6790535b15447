package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/interaction"
	"github.com/itsneelabh/hybrid-coordinator/learning"
	"github.com/itsneelabh/hybrid-coordinator/llmengine"
	"github.com/itsneelabh/hybrid-coordinator/logging"
	"github.com/itsneelabh/hybrid-coordinator/query"
	"github.com/itsneelabh/hybrid-coordinator/relstore"
	"github.com/itsneelabh/hybrid-coordinator/session"
	"github.com/itsneelabh/hybrid-coordinator/toolregistry"
	"github.com/itsneelabh/hybrid-coordinator/vectorstore"
)

// registerRoutes wires the route table. Every handler here runs
// behind the full middleware chain (see Handler); /health, /metrics and
// /ws are mounted separately, ahead of it.
func (c *Coordinator) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/status", c.handleStatus)
	mux.HandleFunc("/query", c.handleQuery)
	mux.HandleFunc("/context/multi_turn", c.handleMultiTurn)
	mux.HandleFunc("/feedback", c.handleFeedback)
	mux.HandleFunc("/feedback/", c.handleFeedbackByID)
	mux.HandleFunc("/session/", c.handleSessionByID)
	mux.HandleFunc("/discovery/capabilities", c.handleCapabilities)
	mux.HandleFunc("/learning/stats", c.handleLearningStats)
	mux.HandleFunc("/learning/process", c.handleLearningProcess)
	mux.HandleFunc("/learning/export", c.handleLearningExport)
	mux.HandleFunc("/learning/ab_compare", c.handleABCompare)
	mux.HandleFunc("/proposals/apply", c.handleProposalsApply)
	mux.HandleFunc("/reload-model", c.handleReloadModel)
	mux.HandleFunc("/search/tree", c.handleSearchTree)
	mux.HandleFunc("/memory/store", c.handleMemoryStore)
	mux.HandleFunc("/memory/recall", c.handleMemoryRecall)
	mux.HandleFunc("/augment_query", c.handleAugmentQuery)
	mux.HandleFunc("/harness/eval", c.handleHarnessEval)
	mux.HandleFunc("/harness/stats", c.handleHarnessStats)
	mux.HandleFunc("/vllm/", c.handleVLLMGone)
}

// handleVLLMGone answers every legacy /vllm/* path with 410; those
// endpoints are retired and deliberately not re-implemented.
func (c *Coordinator) handleVLLMGone(w http.ResponseWriter, r *http.Request) {
	writeError(w, apperrors.Newf(apperrors.KindGone, "legacy endpoint %s removed", r.URL.Path))
}

// handleHealth answers the un-gated GET /health shape: a liveness
// check plus the service's static identity, collection list, and
// per-breaker state — never auth-gated, never behind the full
// middleware chain (see Handler).
func (c *Coordinator) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if c.cfg.Health != nil {
		status = string(c.cfg.Health.Liveness(r.Context()).Status)
	}
	service := c.cfg.ServiceName
	if service == "" {
		service = "hybrid-coordinator"
	}
	collections := c.cfg.Collections
	if len(collections) == 0 {
		collections = vectorstore.AllCollections
	}
	resp := map[string]interface{}{
		"status":      status,
		"service":     service,
		"collections": collections,
	}
	if c.cfg.Breakers != nil {
		resp["circuit_breakers"] = c.cfg.Breakers.Snapshot()
	}
	if c.cfg.Ralph != nil {
		resp["harness_stats"] = c.cfg.Ralph.Stats("", "")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *Coordinator) handleStatus(w http.ResponseWriter, r *http.Request) {
	if c.cfg.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unknown"})
		return
	}
	res := c.cfg.Health.Readiness(r.Context())
	status := http.StatusOK
	if res.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

type queryRequest struct {
	Query             string  `json:"query"`
	Prompt            string  `json:"prompt"` // accepted alias for query
	Mode              string  `json:"mode,omitempty"`
	PreferLocal       bool    `json:"prefer_local"`
	GenerateResponse  bool    `json:"generate_response"`
	Limit             int     `json:"limit,omitempty"`
	KeywordLimit      int     `json:"keyword_limit,omitempty"`
	ScoreThreshold    float64 `json:"score_threshold,omitempty"`
	EscalationEnabled bool    `json:"escalation_enabled"`
	ExperimentName    string  `json:"experiment_name,omitempty"`
	SubjectID         string  `json:"subject_id,omitempty"`
	TrafficSplit      float64 `json:"traffic_split,omitempty"`
}

// queryEmbedding embeds q for the semantic-cache probe, returning nil
// (exact-match-only caching) when no LLM client is wired or the
// embedding call fails — a degraded cache is never worth failing the
// query over.
func (c *Coordinator) queryEmbedding(ctx context.Context, q string) []float32 {
	if c.cfg.LLM == nil {
		return nil
	}
	resp, err := c.cfg.LLM.Embed(ctx, []string{q})
	if err != nil || len(resp.Vectors) == 0 {
		return nil
	}
	return resp.Vectors[0]
}

// handleQuery implements the single-turn query route: cache probe,
// expand/search/rerank/assemble/route, optional local answer
// generation, interaction tracking, cache write.
func (c *Coordinator) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "invalid request body"))
		return
	}
	if req.Query == "" {
		req.Query = req.Prompt
	}
	if req.Query == "" {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "query is required"))
		return
	}

	start := time.Now()
	var embedding []float32
	if c.cfg.Cache != nil {
		embedding = c.queryEmbedding(r.Context(), req.Query)
		if hit, ok := c.cfg.Cache.Get(req.Query, embedding); ok {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"response":   hit.Response,
				"llm_used":   hit.LLMUsed,
				"cache_hit":  string(hit.Kind),
				"similarity": hit.Similarity,
			})
			return
		}
	}

	if req.PreferLocal && c.cfg.LoadGate != nil {
		if err := c.cfg.LoadGate.Wait(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}

	resp, err := c.cfg.Pipeline.Run(r.Context(), query.Request{
		Query:             req.Query,
		ExpansionMode:     query.ExpansionMode(req.Mode),
		TopK:              req.Limit,
		LimitPerSearch:    uint64(req.KeywordLimit),
		MinScore:          req.ScoreThreshold,
		EscalationEnabled: req.EscalationEnabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	var answer, llmUsed string
	var tokens int
	if req.GenerateResponse && resp.Route == query.RouteLocal && c.cfg.LLM != nil {
		chat, err := c.cfg.LLM.Chat(r.Context(), llmengine.ChatRequest{
			Messages: []llmengine.ChatMessage{
				{Role: "system", Content: "Answer using the provided context.\n\n" + resp.Context},
				{Role: "user", Content: req.Query},
			},
		})
		if err != nil {
			writeError(w, err)
			return
		}
		answer = chat.Content
		llmUsed = "local"
		tokens = chat.Usage.TotalTokens
	}

	var interactionID string
	if c.cfg.Interactions != nil {
		agentType := interaction.AgentRemote
		if req.PreferLocal {
			agentType = interaction.AgentLocal
		}
		id, err := c.cfg.Interactions.TrackInteraction(r.Context(),
			req.Query, answer, agentType, llmUsed, resp.ContextIDs,
			interaction.OutcomeUnknown, 0, tokens, time.Since(start).Milliseconds())
		if err != nil {
			c.logger.WarnWithContext(r.Context(), "interaction tracking failed", logging.Fields{"error": err.Error()})
		} else {
			interactionID = id
		}
	}

	if answer != "" && c.cfg.Cache != nil {
		c.cfg.Cache.Set(req.Query, embedding, answer, llmUsed, tokens)
	}

	// When the caller opts a subject into a named experiment, assign its
	// variant by the same consistent hash every time and persist the
	// assignment.
	var variant string
	if req.ExperimentName != "" && req.SubjectID != "" && c.cfg.RelStore != nil {
		split := req.TrafficSplit
		if split <= 0 {
			split = 0.5
		}
		variant = assignVariant(req.ExperimentName, req.SubjectID, split)
		if err := c.cfg.RelStore.InsertExperimentAssignment(r.Context(), relstore.ExperimentAssignment{
			ExperimentName: req.ExperimentName,
			SubjectID:      req.SubjectID,
			Variant:        variant,
			AssignedAt:     time.Now(),
		}); err != nil {
			c.logger.WarnWithContext(r.Context(), "experiment assignment persist failed", logging.Fields{"error": err.Error()})
		}
	}

	out := map[string]interface{}{
		"context":              resp.Context,
		"context_ids":          resp.ContextIDs,
		"token_count":          resp.TokenCount,
		"confidence":           resp.Confidence,
		"route":                resp.Route,
		"collections_searched": resp.CollectionsSearched,
		"expanded_queries":     resp.ExpandedQueries,
	}
	if answer != "" {
		out["answer"] = answer
		out["llm_used"] = llmUsed
	}
	if interactionID != "" {
		out["interaction_id"] = interactionID
	}
	if variant != "" {
		out["variant"] = variant
	}
	writeJSON(w, http.StatusOK, out)
}

type multiTurnRequest struct {
	SessionID string        `json:"session_id"`
	Query     string        `json:"query"`
	Level     session.Level `json:"level"`
}

func (c *Coordinator) handleMultiTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
		return
	}
	var req multiTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "invalid request body"))
		return
	}

	res, err := c.cfg.Sessions.Turn(r.Context(), session.TurnRequest{
		SessionID: req.SessionID,
		Query:     req.Query,
		Level:     req.Level,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *Coordinator) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/session/")
	if id == "" {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "session id required"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		s, err := c.cfg.Sessions.Load(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	case http.MethodDelete:
		if err := c.cfg.Sessions.Clear(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
	}
}

type feedbackRequest struct {
	Query      string               `json:"query"`
	Response   string                `json:"response"`
	AgentType  interaction.AgentType `json:"agent_type"`
	Model      string                `json:"model"`
	ContextIDs []string              `json:"context_ids"`
	Outcome    interaction.Outcome   `json:"outcome"`
	Feedback   int                   `json:"feedback"`
	Tokens     int                   `json:"tokens"`
	LatencyMS  int64                 `json:"latency_ms"`
}

func (c *Coordinator) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "invalid request body"))
		return
	}
	id, err := c.cfg.Interactions.TrackInteraction(r.Context(), req.Query, req.Response, req.AgentType, req.Model, req.ContextIDs, req.Outcome, req.Feedback, req.Tokens, req.LatencyMS)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"interaction_id": id})
}

type feedbackUpdateRequest struct {
	Outcome  interaction.Outcome `json:"outcome"`
	Feedback int                 `json:"feedback"`
}

func (c *Coordinator) handleFeedbackByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/feedback/")
	if id == "" || r.Method != http.MethodPatch {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "interaction id required"))
		return
	}
	var req feedbackUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "invalid request body"))
		return
	}
	if err := c.cfg.Interactions.UpdateOutcome(r.Context(), id, req.Outcome, req.Feedback); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Coordinator) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if c.cfg.Tools == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"tools": []interface{}{}})
		return
	}
	hasValidKey := c.cfg.APIKey != "" && r.Header.Get("X-API-Key") == c.cfg.APIKey
	mode := toolregistry.DisclosureMinimal
	if hasValidKey {
		mode = toolregistry.DisclosureFull
	}
	tools, err := c.cfg.Tools.GetTools(mode, hasValidKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tools)
}

func (c *Coordinator) handleLearningStats(w http.ResponseWriter, r *http.Request) {
	if c.cfg.Ralph == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	taskType := r.URL.Query().Get("task_type")
	backend := r.URL.Query().Get("backend")
	writeJSON(w, http.StatusOK, c.cfg.Ralph.Stats(taskType, backend))
}

func (c *Coordinator) handleLearningProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
		return
	}
	if c.cfg.Learning == nil {
		writeError(w, apperrors.Newf(apperrors.KindInternal, "learning pipeline not configured"))
		return
	}
	if err := c.cfg.Learning.RunOnce(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cycle complete"})
}

// handleProposalsApply accepts an operator-reviewed Proposal and
// records it as applied, deduplicating against the same hash ledger the
// background scan uses: a proposal the scan already generated, or one
// applied before, is rejected.
func (c *Coordinator) handleProposalsApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
		return
	}
	if c.cfg.Learning == nil {
		writeError(w, apperrors.Newf(apperrors.KindInternal, "learning pipeline not configured"))
		return
	}
	var p learning.Proposal
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "invalid request body"))
		return
	}
	if p.ProposalType == "" || p.Title == "" || p.RecommendedAction == "" {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "proposal_type, title, and recommended_action are required"))
		return
	}
	applied, ok, err := c.cfg.Learning.Proposals().Apply(p)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, applied)
		return
	}
	writeJSON(w, http.StatusAccepted, applied)
}

// defaultReloadableServices is the fixed local-model set (llama-cpp
// for generation, ai-embeddings for vectors);
// /reload-model rejects anything outside it rather than reloading an
// arbitrary, possibly nonexistent, service name.
var defaultReloadableServices = []string{"llama-cpp", "ai-embeddings"}

type reloadModelRequest struct {
	Service string `json:"service"`
}

func (c *Coordinator) handleReloadModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
		return
	}
	var req reloadModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Service == "" {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "service is required"))
		return
	}
	whitelist := c.cfg.ReloadableServices
	if len(whitelist) == 0 {
		whitelist = defaultReloadableServices
	}
	found := false
	for _, s := range whitelist {
		if s == req.Service {
			found = true
			break
		}
	}
	if !found {
		writeError(w, apperrors.Newf(apperrors.KindNotFound, "unknown service %q", req.Service))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"service": req.Service, "status": "reloading"})
}

func (c *Coordinator) handleSearchTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
		return
	}
	var args map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "invalid request body"))
		return
	}
	if q, ok := args["prompt"].(string); ok && args["query"] == nil {
		args["query"] = q
	}
	res, err := (dispatcher{c}).SearchTree(r.Context(), args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type memoryStoreRequest struct {
	SessionID string `json:"session_id"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

func (c *Coordinator) handleMemoryStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
		return
	}
	var req memoryStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "invalid request body"))
		return
	}
	res, err := (dispatcher{c}).StoreAgentMemory(r.Context(), map[string]interface{}{
		"session_id": req.SessionID, "key": req.Key, "value": req.Value,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type memoryRecallRequest struct {
	SessionID string `json:"session_id"`
	Key       string `json:"key"`
}

func (c *Coordinator) handleMemoryRecall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
		return
	}
	var req memoryRecallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "invalid request body"))
		return
	}
	res, err := (dispatcher{c}).RecallAgentMemory(r.Context(), map[string]interface{}{
		"session_id": req.SessionID, "key": req.Key,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAugmentQuery is the HTTP form of the augment_query MCP tool,
// the same dispatcher call so both surfaces stay behaviorally
// identical.
func (c *Coordinator) handleAugmentQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "query is required"))
		return
	}
	res, err := (dispatcher{c}).AugmentQuery(r.Context(), map[string]interface{}{
		"query": req.Query, "escalation_enabled": req.EscalationEnabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type harnessEvalRequest struct {
	Prompt          string `json:"prompt"`
	Backend         string `json:"backend"`
	TaskType        string `json:"task_type"`
	RequireApproval bool   `json:"require_approval"`
}

// handleHarnessEval is the HTTP form of the run_harness_eval MCP tool:
// it submits a Ralph task and returns its id immediately, matching
// SubmitTask's non-blocking submit contract.
func (c *Coordinator) handleHarnessEval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
		return
	}
	var req harnessEvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "prompt is required"))
		return
	}
	res, err := (dispatcher{c}).RunHarnessEval(r.Context(), map[string]interface{}{
		"prompt": req.Prompt, "backend": req.Backend, "task_type": req.TaskType,
		"require_approval": req.RequireApproval,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleHarnessStats is the HTTP form of the harness_stats MCP tool.
func (c *Coordinator) handleHarnessStats(w http.ResponseWriter, r *http.Request) {
	taskType := r.URL.Query().Get("task_type")
	backend := r.URL.Query().Get("backend")
	res, err := (dispatcher{c}).HarnessStats(r.Context(), map[string]interface{}{
		"task_type": taskType, "backend": backend,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleLearningExport streams the deduplicated fine-tuning dataset the
// pattern extractor appends to, for offline review — the Go counterpart
// of the original system's training-data export tool.
func (c *Coordinator) handleLearningExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
		return
	}
	if c.cfg.Learning == nil {
		writeError(w, apperrors.Newf(apperrors.KindInternal, "learning pipeline not configured"))
		return
	}
	path := c.cfg.Learning.Extractor().DatasetPath()
	if path == "" {
		writeJSON(w, http.StatusOK, map[string]string{"dataset": ""})
		return
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			return
		}
		writeError(w, apperrors.New("coordinator.handleLearningExport", apperrors.KindInternal, err))
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

type abCompareRequest struct {
	ExperimentName string `json:"experiment_name"`
}

// handleABCompare reports per-variant count/average and a simplified
// significance call: flag significant when the relative difference
// between two variants' averages exceeds 5%.
func (c *Coordinator) handleABCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "method not allowed"))
		return
	}
	if c.cfg.RelStore == nil {
		writeError(w, apperrors.Newf(apperrors.KindInternal, "relational store not configured"))
		return
	}
	var req abCompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExperimentName == "" {
		writeError(w, apperrors.Newf(apperrors.KindValidation, "experiment_name is required"))
		return
	}
	stats, err := c.cfg.RelStore.CompareExperiment(r.Context(), req.ExperimentName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"experiment_name": req.ExperimentName,
		"variants":        stats,
		"significant":     abSignificant(stats),
	})
}

// abSignificant applies a simplified significance rule: with exactly
// two variants present, a >5% relative difference in their average
// value scores is reported as significant.
func abSignificant(stats []relstore.VariantStats) bool {
	if len(stats) != 2 {
		return false
	}
	a, b := stats[0].AvgValue, stats[1].AvgValue
	if a == 0 {
		return b != 0
	}
	diff := (b - a) / a
	if diff < 0 {
		diff = -diff
	}
	return diff > 0.05
}
