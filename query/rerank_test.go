package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyBoostsVerifiedAndCode(t *testing.T) {
	hits := []Hit{
		{ID: "a", Score: 1.0, VerifiedSolution: true, HasCodeBlock: true, SuccessRate: 0.9},
		{ID: "b", Score: 1.0},
	}
	boosted := ApplyBoosts(hits, time.Now())
	assert.InDelta(t, 1.5*1.3*1.15, boosted[0].Score, 1e-9)
	assert.Equal(t, 1.0, boosted[1].Score)
}

func TestApplyBoostsRecency(t *testing.T) {
	now := time.Now()
	hits := []Hit{
		{ID: "recent", Score: 1.0, LastUpdated: now.Add(-2 * 24 * time.Hour)},
		{ID: "old-ish", Score: 1.0, LastUpdated: now.Add(-30 * 24 * time.Hour)},
		{ID: "ancient", Score: 1.0, LastUpdated: now.Add(-200 * 24 * time.Hour)},
	}
	boosted := ApplyBoosts(hits, now)
	assert.InDelta(t, 1.25, boosted[0].Score, 1e-9)
	assert.InDelta(t, 1.2, boosted[1].Score, 1e-9)
	assert.InDelta(t, 1.0, boosted[2].Score, 1e-9)
}

func TestMMRReturnsRequestedCount(t *testing.T) {
	hits := []Hit{
		{ID: "a", Score: 1.0, Content: "fix gnome keyring error"},
		{ID: "b", Score: 0.9, Content: "fix gnome keyring error now"},
		{ID: "c", Score: 0.5, Content: "restart the network service"},
	}
	out := MMR(hits, 2)
	assert.Len(t, out, 2)
	// The near-duplicate of the top hit should lose to the diverse one.
	ids := []string{out[0].ID, out[1].ID}
	assert.Contains(t, ids, "a")
	assert.Contains(t, ids, "c")
}

func TestRerankWithCrossEncoderReorders(t *testing.T) {
	hits := []Hit{
		{ID: "a", Score: 1.0, Content: "low relevance per cross encoder"},
		{ID: "b", Score: 0.5, Content: "high relevance per cross encoder"},
	}
	ce := stubCE{"low relevance per cross encoder": 0.1, "high relevance per cross encoder": 0.9}
	out := Rerank(hits, 2, ce, "q", time.Now())
	assert.Equal(t, "b", out[0].ID)
}

type stubCE map[string]float64

func (s stubCE) Score(query, content string) float64 { return s[content] }
