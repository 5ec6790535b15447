package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/hybrid-coordinator/llmengine"
	"github.com/itsneelabh/hybrid-coordinator/logging"
	"github.com/itsneelabh/hybrid-coordinator/vectorstore"
)

// patternMergeThreshold is the cosine similarity above which a newly
// extracted pattern is merged into an existing one instead of inserted
// as a new record.
const patternMergeThreshold = 0.9

// Pattern is the generalized-knowledge record stored in
// skills-patterns. It carries a one-way pointer back to the
// interactions that produced or reinforced it, never the reverse.
type Pattern struct {
	PatternID             string   `json:"pattern_id"`
	ProblemType           string   `json:"problem_type"`
	SolutionApproach      string   `json:"solution_approach"`
	SkillsUsed            []string `json:"skills_used"`
	GeneralizablePattern  string   `json:"generalizable_pattern"`
	SuccessExamples       []string `json:"success_examples"`
	FailureExamples       []string `json:"failure_examples"`
	ValueScore            float64  `json:"value_score"`
	LastUpdated           string   `json:"last_updated"`
}

// patternExtractionPrompt is a single template; the wording is
// refinable without affecting the stored pattern shape.
const patternExtractionPrompt = `You just observed an interaction that scored highly for reuse value. ` +
	`Extract a generalizable pattern from it. Respond with ONLY a JSON object ` +
	`of the shape {"problem_type": "...", "solution_approach": "...", ` +
	`"skills_used": ["..."], "generalizable_pattern": "..."}.

Query: %s
Response: %s`

// LLMPatternExtractor implements interaction.PatternExtractor by
// prompting the local LLM to generalize a high-value interaction, then
// merging the result into an existing similar pattern (cosine >= 0.9,
// EMA on value_score) or inserting a new one. It is the per-interaction
// counterpart of the learning package's batch extractor, firing inline
// when a value score crosses the promotion threshold.
type LLMPatternExtractor struct {
	llm    *llmengine.Client
	vec    *vectorstore.Client
	logger logging.Logger
}

// NewLLMPatternExtractor builds a PatternExtractor backed by the local
// inference engine and the skills-patterns collection.
func NewLLMPatternExtractor(llm *llmengine.Client, vec *vectorstore.Client, logger logging.Logger) *LLMPatternExtractor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if cal, ok := logger.(logging.ComponentAwareLogger); ok {
		logger = cal.WithComponent("interaction/pattern_extractor")
	}
	return &LLMPatternExtractor{llm: llm, vec: vec, logger: logger}
}

type extractedFields struct {
	ProblemType          string   `json:"problem_type"`
	SolutionApproach     string   `json:"solution_approach"`
	SkillsUsed           []string `json:"skills_used"`
	GeneralizablePattern string   `json:"generalizable_pattern"`
}

// Extract prompts the LLM for a generalized pattern and upserts it.
// Chat, embedding and upsert errors are returned to the caller (Tracker
// logs and swallows them). A missing LLM or vector client and an
// unusable LLM reply return nil; a failed similarity search is only
// logged, and the pattern is then inserted as new.
func (x *LLMPatternExtractor) Extract(ctx context.Context, in Interaction) error {
	if x.llm == nil || x.vec == nil {
		return nil
	}

	resp, err := x.llm.Chat(ctx, llmengine.ChatRequest{
		Messages: []llmengine.ChatMessage{
			{Role: "system", Content: "You extract generalizable, reusable engineering patterns as strict JSON."},
			{Role: "user", Content: fmt.Sprintf(patternExtractionPrompt, in.Query, in.Response)},
		},
		Temperature: 0.2,
		MaxTokens:   400,
	})
	if err != nil {
		return err
	}

	var fields extractedFields
	raw := extractJSONObject(resp.Content)
	if err := json.Unmarshal([]byte(raw), &fields); err != nil || fields.GeneralizablePattern == "" {
		// Nothing usable came back; this is not an error worth
		// propagating since pattern extraction is best-effort.
		return nil
	}

	embResp, err := x.llm.Embed(ctx, []string{fields.GeneralizablePattern})
	if err != nil || len(embResp.Vectors) == 0 {
		return err
	}
	vector := embResp.Vectors[0]

	existing, found, err := x.findSimilar(ctx, vector)
	if err != nil {
		x.logger.WarnWithContext(ctx, "pattern similarity search failed", logging.Fields{"error": err.Error()})
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var merged Pattern
	if found {
		merged = existing
		merged.ValueScore = 0.9*merged.ValueScore + 0.1*in.ValueScore
		merged.SolutionApproach = fields.SolutionApproach
		merged.SkillsUsed = mergeSkills(merged.SkillsUsed, fields.SkillsUsed)
		merged.SuccessExamples = appendUnique(merged.SuccessExamples, in.ID)
		merged.LastUpdated = now
	} else {
		merged = Pattern{
			PatternID:            uuid.NewString(),
			ProblemType:          fields.ProblemType,
			SolutionApproach:     fields.SolutionApproach,
			SkillsUsed:           fields.SkillsUsed,
			GeneralizablePattern: fields.GeneralizablePattern,
			SuccessExamples:      []string{in.ID},
			ValueScore:           in.ValueScore,
			LastUpdated:          now,
		}
	}

	return x.vec.Upsert(ctx, vectorstore.CollectionSkillsPatterns, []vectorstore.Point{{
		ID:     merged.PatternID,
		Vector: vector,
		Payload: map[string]interface{}{
			"problem_type":          merged.ProblemType,
			"solution_approach":     merged.SolutionApproach,
			"skills_used":           merged.SkillsUsed,
			"generalizable_pattern": merged.GeneralizablePattern,
			"success_examples":      merged.SuccessExamples,
			"failure_examples":      merged.FailureExamples,
			"value_score":           merged.ValueScore,
			"last_updated":          merged.LastUpdated,
		},
	}})
}

func (x *LLMPatternExtractor) findSimilar(ctx context.Context, vector []float32) (Pattern, bool, error) {
	hits, err := x.vec.Search(ctx, vectorstore.CollectionSkillsPatterns, vector, 1)
	if err != nil {
		return Pattern{}, false, err
	}
	if len(hits) == 0 || hits[0].Score < float32(patternMergeThreshold) {
		return Pattern{}, false, nil
	}
	return patternFromPayload(hits[0].ID, hits[0].Payload), true, nil
}

func patternFromPayload(id string, payload map[string]interface{}) Pattern {
	p := Pattern{PatternID: id}
	if v, ok := payload["problem_type"].(string); ok {
		p.ProblemType = v
	}
	if v, ok := payload["solution_approach"].(string); ok {
		p.SolutionApproach = v
	}
	if v, ok := payload["generalizable_pattern"].(string); ok {
		p.GeneralizablePattern = v
	}
	if v, ok := payload["value_score"].(float64); ok {
		p.ValueScore = v
	}
	p.SkillsUsed = stringSlice(payload["skills_used"])
	p.SuccessExamples = stringSlice(payload["success_examples"])
	p.FailureExamples = stringSlice(payload["failure_examples"])
	return p
}

func stringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mergeSkills(existing, fresh []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range fresh {
		if !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	return out
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// extractJSONObject pulls the first {...} span out of an LLM reply,
// tolerating surrounding prose or markdown code fences.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "{}"
	}
	return s[start : end+1]
}
