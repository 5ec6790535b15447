// Package cache implements the exact + similarity-based semantic
// response cache: an exact-hash lookup first, falling back to a
// cosine-similarity scan of unexpired entries, with per-entry hit
// accounting and TTL-based expiry: lookups never return an expired
// entry, and Sweep removes expired entries when called. The package
// starts no background sweep of its own.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry mirrors the data model's CacheEntry.
type Entry struct {
	ID             string
	QueryHash      string
	QueryText      string
	QueryEmbedding []float32
	Response       string
	LLMUsed        string
	TokensSaved    int
	HitCount       int64
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastHitAt      time.Time
}

// HitKind distinguishes an exact hash match from a similarity match.
type HitKind string

const (
	HitExact    HitKind = "exact"
	HitSemantic HitKind = "semantic"
	HitNone     HitKind = ""
)

// Result is what Get returns on a hit.
type Result struct {
	Kind       HitKind
	Response   string
	LLMUsed    string
	HitCount   int64
	Similarity float64
}

// Stats is the aggregate usage snapshot the stats endpoint reports.
type Stats struct {
	TotalEntries     int
	TotalHits        int64
	TotalTokensSaved int64
	AvgHitsPerEntry  float64
}

// Cache is the semantic response cache. SimilarityThreshold and
// DefaultTTL come from config.CacheConfig.
type Cache struct {
	mu                  sync.Mutex
	entries             map[string]*Entry // keyed by query hash
	similarityThreshold float64
	defaultTTL          time.Duration
}

// New creates a Cache requiring cosine similarity >= similarityThreshold
// for a semantic hit, with defaultTTL applied to every write.
func New(similarityThreshold float64, defaultTTL time.Duration) *Cache {
	return &Cache{
		entries:             make(map[string]*Entry),
		similarityThreshold: similarityThreshold,
		defaultTTL:          defaultTTL,
	}
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// Get looks up query first by exact hash, then — on miss — scans
// unexpired entries for the highest-cosine-similarity match at or above
// the configured threshold. Expired entries are swept as they're
// encountered.
func (c *Cache) Get(query string, embedding []float32) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	hash := hashQuery(query)

	if e, ok := c.entries[hash]; ok {
		if now.After(e.ExpiresAt) {
			delete(c.entries, hash)
		} else {
			e.HitCount++
			e.LastHitAt = now
			return &Result{Kind: HitExact, Response: e.Response, LLMUsed: e.LLMUsed, HitCount: e.HitCount}, true
		}
	}

	var best *Entry
	var bestScore float64
	for key, e := range c.entries {
		if now.After(e.ExpiresAt) {
			delete(c.entries, key)
			continue
		}
		score := cosineSimilarity(embedding, e.QueryEmbedding)
		if score > bestScore {
			bestScore = score
			best = e
		}
	}

	if best != nil && bestScore >= c.similarityThreshold {
		best.HitCount++
		best.LastHitAt = now
		return &Result{Kind: HitSemantic, Response: best.Response, LLMUsed: best.LLMUsed, HitCount: best.HitCount, Similarity: bestScore}, true
	}

	return nil, false
}

// Set writes a new cache entry. Empty responses are rejected — an empty
// answer is never worth reusing and would otherwise poison future exact
// hits. If query is already cached, its embedding, response, and expiry
// are overwritten and its hit count is preserved.
func (c *Cache) Set(query string, embedding []float32, response, llmUsed string, tokensSaved int) bool {
	if response == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hash := hashQuery(query)
	now := time.Now()

	if existing, ok := c.entries[hash]; ok {
		existing.QueryEmbedding = embedding
		existing.Response = response
		existing.LLMUsed = llmUsed
		existing.TokensSaved = tokensSaved
		existing.ExpiresAt = now.Add(c.defaultTTL)
		return true
	}

	c.entries[hash] = &Entry{
		ID:             uuid.NewString(),
		QueryHash:      hash,
		QueryText:      query,
		QueryEmbedding: embedding,
		Response:       response,
		LLMUsed:        llmUsed,
		TokensSaved:    tokensSaved,
		CreatedAt:      now,
		ExpiresAt:      now.Add(c.defaultTTL),
	}
	return true
}

// Sweep evicts every expired entry, for use by a periodic background
// task rather than relying solely on the lazy sweep inside Get.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stats reports aggregate cache usage.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var totalHits, totalTokens int64
	for _, e := range c.entries {
		totalHits += e.HitCount
		totalTokens += int64(e.TokensSaved)
	}
	avg := 0.0
	if len(c.entries) > 0 {
		avg = float64(totalHits) / float64(len(c.entries))
	}
	return Stats{
		TotalEntries:     len(c.entries),
		TotalHits:        totalHits,
		TotalTokensSaved: totalTokens,
		AvgHitsPerEntry:  avg,
	}
}

// cosineSimilarity returns 0 for dimension mismatches or zero-norm
// vectors rather than erroring — neither is eligible for a semantic hit.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
