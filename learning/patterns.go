package learning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/llmengine"
	"github.com/itsneelabh/hybrid-coordinator/vectorstore"
)

// minPromptLen / minResponseLen are the quality-filter length minima.
const (
	minPromptLen       = 10
	minResponseLen     = 20
	maxPatternIterations = 5
)

// taskCompletedEvent and errorResolutionEvent are the two raw event
// shapes pattern extraction materializes into InteractionPattern.
type taskCompletedEvent struct {
	Prompt     string `json:"prompt"`
	Response   string `json:"response"`
	Iterations int    `json:"iterations"`
	Success    bool   `json:"success"`
}

type errorResolutionEvent struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// InteractionPattern is the materialized, deduped, embedded record
// upserted into skills-patterns.
type InteractionPattern struct {
	PatternID      string  `json:"pattern_id"`
	NormalizedType string  `json:"normalized_type"`
	Prompt         string  `json:"prompt"`
	Response       string  `json:"response"`
	Iterations     int     `json:"iterations"`
	SuccessMetric  float64 `json:"success_metric"`
	ContentHash    string  `json:"content_hash"`
}

// DedupStats tracks (total, duplicates, unique) for one extraction batch.
type DedupStats struct {
	Total      int
	Duplicates int
	Unique     int
}

// Extractor turns raw telemetry events into deduped, embedded,
// upserted InteractionPatterns and appends fine-tuning examples.
type Extractor struct {
	vec          *vectorstore.Client
	llm          *llmengine.Client
	datasetPath  string
	seenHashes   map[string]bool
}

func NewExtractor(vec *vectorstore.Client, llm *llmengine.Client, datasetPath string) *Extractor {
	return &Extractor{vec: vec, llm: llm, datasetPath: datasetPath, seenHashes: make(map[string]bool)}
}

// DatasetPath returns the JSONL file the extractor appends fine-tuning
// examples to, for the /learning/export route to stream back.
func (x *Extractor) DatasetPath() string { return x.datasetPath }

func contentHash(prompt, response string) string {
	normalized := strings.ToLower(strings.TrimSpace(prompt)) + "\x00" + strings.ToLower(strings.TrimSpace(response))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func qualityFilter(prompt, response string, iterations int) bool {
	if len(prompt) < minPromptLen || len(response) < minResponseLen {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(prompt), strings.TrimSpace(response)) {
		return false
	}
	if iterations > maxPatternIterations {
		return false
	}
	return true
}

// Extract processes a batch of RawEvents, materializing patterns from
// task_completed (low iteration count) and error_resolution events,
// applying the quality filter and content-hash dedup, embedding and
// upserting survivors, and appending fine-tuning examples.
func (x *Extractor) Extract(ctx context.Context, events []RawEvent) (DedupStats, error) {
	var stats DedupStats
	var survivors []InteractionPattern

	for _, ev := range events {
		var prompt, response string
		var iterations int
		var normalizedType string

		switch ev.Type {
		case "task_completed":
			var e taskCompletedEvent
			if err := ev.Decode(&e); err != nil {
				continue
			}
			if e.Iterations > maxPatternIterations {
				continue
			}
			prompt, response, iterations, normalizedType = e.Prompt, e.Response, e.Iterations, "task_completion"
		case "error_resolution":
			var e errorResolutionEvent
			if err := ev.Decode(&e); err != nil {
				continue
			}
			prompt, response, iterations, normalizedType = e.Prompt, e.Response, 0, "error_resolution"
		default:
			continue
		}

		if !qualityFilter(prompt, response, iterations) {
			continue
		}

		stats.Total++
		hash := contentHash(prompt, response)
		if x.seenHashes[hash] {
			stats.Duplicates++
			continue
		}
		x.seenHashes[hash] = true
		stats.Unique++

		survivors = append(survivors, InteractionPattern{
			PatternID:      uuid.NewString(),
			NormalizedType: normalizedType,
			Prompt:         prompt,
			Response:       response,
			Iterations:     iterations,
			SuccessMetric:  successMetric(iterations),
			ContentHash:    hash,
		})
	}

	if len(survivors) == 0 {
		return stats, nil
	}

	if err := x.embedAndUpsert(ctx, survivors); err != nil {
		return stats, err
	}
	if err := x.appendDataset(survivors); err != nil {
		return stats, err
	}
	return stats, nil
}

func successMetric(iterations int) float64 {
	if iterations <= 1 {
		return 1.0
	}
	m := 1.0 - float64(iterations-1)*0.15
	if m < 0 {
		m = 0
	}
	return m
}

func (x *Extractor) embedAndUpsert(ctx context.Context, patterns []InteractionPattern) error {
	if x.llm == nil || x.vec == nil {
		return nil
	}

	texts := make([]string, len(patterns))
	for i, p := range patterns {
		texts[i] = p.Prompt + "\n" + p.Response
	}
	embResp, err := x.llm.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(embResp.Vectors) != len(patterns) {
		return apperrors.Newf(apperrors.KindUpstreamError, "embedding count mismatch: got %d want %d", len(embResp.Vectors), len(patterns))
	}

	points := make([]vectorstore.Point, len(patterns))
	for i, p := range patterns {
		points[i] = vectorstore.Point{
			ID:     p.PatternID,
			Vector: embResp.Vectors[i],
			Payload: map[string]interface{}{
				"normalized_type": p.NormalizedType,
				"prompt":          p.Prompt,
				"response":        p.Response,
				"iterations":      p.Iterations,
				"success_metric":  p.SuccessMetric,
				"content_hash":    p.ContentHash,
			},
		}
	}
	return x.vec.Upsert(ctx, vectorstore.CollectionSkillsPatterns, points)
}

// fineTuneExample is one line of the exported fine-tuning dataset.
type fineTuneExample struct {
	Prompt   string `json:"prompt"`
	Response string `json:"completion"`
}

func (x *Extractor) appendDataset(patterns []InteractionPattern) error {
	if x.datasetPath == "" {
		return nil
	}
	f, err := os.OpenFile(x.datasetPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperrors.New("learning.appendDataset", apperrors.KindInternal, err)
	}
	defer f.Close()

	for _, p := range patterns {
		line, err := json.Marshal(fineTuneExample{Prompt: p.Prompt, Response: p.Response})
		if err != nil {
			continue
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return apperrors.New("learning.appendDataset", apperrors.KindInternal, err)
		}
	}
	return nil
}
