package query

import (
	"sort"
	"strings"
	"time"
)

// CrossEncoder is an optional, graceful-fallback reordering stage.
// Any implementation that can score a (query, content) pair satisfies
// it; the model behind it is not part of the contract.
type CrossEncoder interface {
	Score(query, content string) float64
}

const mmrLambda = 0.3

// ApplyBoosts multiplies each hit's score by the metadata boost
// factors: verified solutions x1.5, success_rate>=0.8 x1.3, recency
// x1.25 (last 7 days) or x1.2 (last 90 days), and the presence of a
// code block x1.15. Boosts compose multiplicatively.
func ApplyBoosts(hits []Hit, now time.Time) []Hit {
	out := make([]Hit, len(hits))
	copy(out, hits)
	for i := range out {
		h := &out[i]
		boost := 1.0
		if h.VerifiedSolution {
			boost *= 1.5
		}
		if h.SuccessRate >= 0.8 {
			boost *= 1.3
		}
		if !h.LastUpdated.IsZero() {
			age := now.Sub(h.LastUpdated)
			switch {
			case age <= 7*24*time.Hour:
				boost *= 1.25
			case age <= 90*24*time.Hour:
				boost *= 1.2
			}
		}
		if h.HasCodeBlock {
			boost *= 1.15
		}
		h.Score *= boost
	}
	return out
}

// MMR reorders hits with maximal-marginal-relevance, trading off
// relevance (the boosted score) against diversity from items already
// selected, at lambda=0.3. Diversity is measured with a Jaccard
// word-overlap proxy over Content rather than a true embedding
// distance: search hits don't carry their source vector back from the
// store (only the payload is requested), so this is the cheapest
// signal available without a second round-trip per item.
func MMR(hits []Hit, k int) []Hit {
	if k <= 0 || k > len(hits) {
		k = len(hits)
	}
	remaining := append([]Hit(nil), hits...)
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].Score > remaining[j].Score })

	selected := make([]Hit, 0, k)
	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := -1.0
		for i, cand := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := jaccardSimilarity(cand.Content, s.Content); sim > maxSim {
					maxSim = sim
				}
			}
			mmrScore := mmrLambda*normalizedScore(cand, remaining) - (1-mmrLambda)*maxSim
			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func normalizedScore(h Hit, all []Hit) float64 {
	max := 0.0
	for _, x := range all {
		if x.Score > max {
			max = x.Score
		}
	}
	if max == 0 {
		return 0
	}
	return h.Score / max
}

func jaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// Rerank applies boosts, then MMR for diversity, then — if ce is
// non-nil — a final cross-encoder reorder pass.
func Rerank(hits []Hit, topK int, ce CrossEncoder, query string, now time.Time) []Hit {
	boosted := ApplyBoosts(hits, now)
	diversified := MMR(boosted, topK)

	if ce == nil {
		return diversified
	}
	out := make([]Hit, len(diversified))
	copy(out, diversified)
	for i := range out {
		out[i].Score = ce.Score(query, out[i].Content)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
