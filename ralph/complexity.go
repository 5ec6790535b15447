package ralph

import (
	"context"
	"strings"
)

// Bucket is a prompt complexity classification used to pick a base
// iteration limit for adaptive mode.
type Bucket string

const (
	BucketSimple      Bucket = "simple"
	BucketModerate    Bucket = "moderate"
	BucketComplex     Bucket = "complex"
	BucketVeryComplex Bucket = "very_complex"
)

// baseLimits maps a complexity bucket to its base iteration limit.
var baseLimits = map[Bucket]int{
	BucketSimple:      3,
	BucketModerate:    10,
	BucketComplex:     25,
	BucketVeryComplex: 50,
}

var complexKeywords = []string{
	"refactor", "migrate", "architecture", "redesign", "rewrite",
	"across the codebase", "end-to-end", "distributed", "concurrency",
}
var moderateKeywords = []string{
	"fix", "add", "implement", "update", "test", "integrate",
}
var veryComplexKeywords = []string{
	"entire system", "full rewrite", "multi-service", "cross-cutting",
}

// ClassifyComplexity maps a prompt to a Bucket using keyword scoring
// plus a length bias — longer prompts skew toward more complex buckets
// even without a keyword hit.
func ClassifyComplexity(prompt string) Bucket {
	lower := strings.ToLower(prompt)
	words := len(strings.Fields(prompt))

	score := 0
	for _, k := range veryComplexKeywords {
		if strings.Contains(lower, k) {
			score += 3
		}
	}
	for _, k := range complexKeywords {
		if strings.Contains(lower, k) {
			score += 2
		}
	}
	for _, k := range moderateKeywords {
		if strings.Contains(lower, k) {
			score += 1
		}
	}

	switch {
	case words > 200:
		score += 3
	case words > 80:
		score += 2
	case words > 30:
		score += 1
	}

	// A bare keyword hit in an otherwise trivial prompt ("fix typo")
	// doesn't carry enough signal to leave BucketSimple; require a
	// minimum amount of actual content before promoting on score alone.
	if words < 3 {
		score = 0
	}

	switch {
	case score >= 6:
		return BucketVeryComplex
	case score >= 2:
		return BucketComplex
	case score >= 1:
		return BucketModerate
	default:
		return BucketSimple
	}
}

// historyFactor maps a success_rate/avg_iterations read into the
// adaptive adjustment multiplier.
func historyFactor(successRate float64, avgIterations float64) float64 {
	switch {
	case successRate > 0.8 && avgIterations < 5:
		return 0.8
	case successRate > 0.6:
		return 1.0
	case successRate > 0.4:
		return 1.2
	default:
		return 1.5
	}
}

// resolveMaxIterations applies the full adaptive-limit algorithm
// for modes other than fixed/infinite; fixed mode uses the task's
// configured MaxIterations verbatim, and infinite mode ignores the
// limit entirely (enforced by the caller checking IterationMode).
func (e *Engine) resolveMaxIterations(task *Task) int {
	if task.IterationMode == ModeFixed {
		if task.MaxIterations <= 0 {
			return e.minIterations
		}
		return task.MaxIterations
	}
	if task.IterationMode == ModeInfinite {
		return 0
	}

	bucket := ClassifyComplexity(task.Prompt)
	base := baseLimits[bucket]

	stats := e.history.stats(task.TaskType, task.Backend)
	factor := 1.0
	if stats.Count >= 3 {
		factor = historyFactor(stats.SuccessRate, stats.AvgIterations)
	}

	limit := int(float64(base) * factor)
	if limit < e.minIterations {
		limit = e.minIterations
	}
	if limit > e.maxIterationsCap {
		limit = e.maxIterationsCap
	}
	if e.events != nil {
		_ = e.events.Emit(context.Background(), "adaptive_limit_decision", map[string]interface{}{
			"task_id":    task.TaskID,
			"task_type":  task.TaskType,
			"backend":    task.Backend,
			"complexity": string(bucket),
			"base_limit": base,
			"factor":     factor,
			"limit":      limit,
		})
	}
	return limit
}
