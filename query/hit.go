// Package query implements the query pipeline: expansion, hybrid
// search, rerank, and progressive-disclosure context assembly, ending
// in a confidence-threshold decision that routes each query to the
// local LLM or an escalation.
package query

import "time"

// Hit is one retrieval result, merged across collections and queries.
type Hit struct {
	ID              string
	Collection      string
	Content         string
	Score           float64
	Payload         map[string]interface{}
	VerifiedSolution bool
	SuccessRate     float64
	LastUpdated     time.Time
	HasCodeBlock    bool
}

// mergeMax keeps, for each id, the hit with the highest score seen
// across every (query, collection) pair searched.
func mergeMax(existing map[string]Hit, incoming []Hit) {
	for _, h := range incoming {
		if cur, ok := existing[h.ID]; !ok || h.Score > cur.Score {
			existing[h.ID] = h
		}
	}
}
