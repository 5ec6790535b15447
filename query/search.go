package query

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itsneelabh/hybrid-coordinator/llmengine"
	"github.com/itsneelabh/hybrid-coordinator/vectorstore"
)

// HybridSearch embeds every expanded query once, then fans out a
// similarity search per (query, collection) pair concurrently via
// errgroup, merging results by id and keeping the maximum score seen
// for each.
func HybridSearch(ctx context.Context, vec *vectorstore.Client, llm *llmengine.Client, queries []string, collections []string, limitPerSearch uint64) ([]Hit, error) {
	if vec == nil || len(queries) == 0 || len(collections) == 0 {
		return nil, nil
	}

	embedResp, err := llm.Embed(ctx, queries)
	if err != nil {
		return nil, err
	}

	type partial struct {
		hits []Hit
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([]partial, len(queries)*len(collections))

	idx := 0
	for qi := range queries {
		var vector []float32
		if qi < len(embedResp.Vectors) {
			vector = embedResp.Vectors[qi]
		}
		for _, collection := range collections {
			i, vector, collection := idx, vector, collection
			idx++
			g.Go(func() error {
				searchHits, err := vec.Search(gctx, collection, vector, limitPerSearch)
				if err != nil {
					// A single collection's unavailability degrades
					// coverage, it doesn't fail the whole search.
					return nil
				}
				hits := make([]Hit, 0, len(searchHits))
				for _, sh := range searchHits {
					hits = append(hits, hitFromSearchResult(collection, sh))
				}
				results[i] = partial{hits: hits}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]Hit)
	for _, r := range results {
		mergeMax(merged, r.hits)
	}

	out := make([]Hit, 0, len(merged))
	for _, h := range merged {
		out = append(out, h)
	}
	return out, nil
}

// SearchTree runs the same per-collection fan-out as HybridSearch but
// keeps each collection's hits separate instead of merging them by id,
// returning a collection -> ranked-hits tree for callers that want
// results grouped by collection rather than flattened.
func SearchTree(ctx context.Context, vec *vectorstore.Client, llm *llmengine.Client, q string, collections []string, limitPerSearch uint64) (map[string][]Hit, error) {
	if vec == nil || q == "" || len(collections) == 0 {
		return nil, nil
	}

	embedResp, err := llm.Embed(ctx, []string{q})
	if err != nil {
		return nil, err
	}
	var vector []float32
	if len(embedResp.Vectors) > 0 {
		vector = embedResp.Vectors[0]
	}

	g, gctx := errgroup.WithContext(ctx)
	tree := make(map[string][]Hit, len(collections))
	var mu sync.Mutex

	for _, collection := range collections {
		collection := collection
		g.Go(func() error {
			searchHits, err := vec.Search(gctx, collection, vector, limitPerSearch)
			if err != nil {
				return nil
			}
			hits := make([]Hit, 0, len(searchHits))
			for _, sh := range searchHits {
				hits = append(hits, hitFromSearchResult(collection, sh))
			}
			mu.Lock()
			tree[collection] = hits
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tree, nil
}

func hitFromSearchResult(collection string, sh vectorstore.SearchHit) Hit {
	h := Hit{
		ID:         sh.ID,
		Collection: collection,
		Score:      float64(sh.Score),
		Payload:    sh.Payload,
	}
	if content, ok := sh.Payload["content"].(string); ok {
		h.Content = content
	}
	if verified, ok := sh.Payload["solution_verified"].(bool); ok {
		h.VerifiedSolution = verified
	}
	if rate, ok := sh.Payload["success_rate"].(float64); ok {
		h.SuccessRate = rate
	}
	if ts, ok := sh.Payload["last_updated"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			h.LastUpdated = parsed
		}
	}
	h.HasCodeBlock = strings.Contains(h.Content, "```")
	return h
}
