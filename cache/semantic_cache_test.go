package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetExactHitTakesPrecedence(t *testing.T) {
	c := New(0.95, time.Hour)
	emb := []float32{1, 0, 0}
	require.True(t, c.Set("How to fix GNOME keyring error in NixOS?", emb, "Solution: enable gnome-keyring...", "local", 14500))

	res, ok := c.Get("How to fix GNOME keyring error in NixOS?", emb)
	require.True(t, ok)
	assert.Equal(t, HitExact, res.Kind)
	assert.Equal(t, "Solution: enable gnome-keyring...", res.Response)
	assert.Equal(t, "local", res.LLMUsed)
	assert.Equal(t, int64(1), res.HitCount)
}

func TestGetSemanticHitRequiresThreshold(t *testing.T) {
	c := New(0.95, time.Hour)
	require.True(t, c.Set("How to fix GNOME keyring error in NixOS?", []float32{1, 0, 0}, "Solution: enable gnome-keyring...", "local", 14500))

	// cosine([1,0,0], [0.97, 0.2431, 0]) ≈ 0.97
	res, ok := c.Get("Fix GNOME keyring in NixOS", []float32{0.97, 0.2431, 0})
	require.True(t, ok)
	assert.Equal(t, HitSemantic, res.Kind)
	assert.InDelta(t, 0.97, res.Similarity, 0.001)

	// cosine ≈ 0.90 is below threshold.
	_, ok = c.Get("Fix GNOME keyring in NixOS", []float32{0.90, 0.4359, 0})
	assert.False(t, ok)
}

func TestGetNeverReturnsExpiredEntries(t *testing.T) {
	c := New(0.95, 10*time.Millisecond)
	emb := []float32{1, 0, 0}
	require.True(t, c.Set("q", emb, "answer", "local", 100))

	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("q", emb)
	assert.False(t, ok)
	// semantic path after the lazy sweep also misses
	_, ok = c.Get("q2", emb)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().TotalEntries)
}

func TestSetRejectsEmptyResponse(t *testing.T) {
	c := New(0.95, time.Hour)
	assert.False(t, c.Set("q", []float32{1}, "", "local", 0))
	assert.Equal(t, 0, c.Stats().TotalEntries)
}

func TestSetOverwritePreservesHitCount(t *testing.T) {
	c := New(0.95, time.Hour)
	emb := []float32{1, 0}
	require.True(t, c.Set("q", emb, "first", "local", 10))
	_, ok := c.Get("q", emb)
	require.True(t, ok)

	require.True(t, c.Set("q", emb, "second", "remote", 20))
	res, ok := c.Get("q", emb)
	require.True(t, ok)
	assert.Equal(t, "second", res.Response)
	assert.Equal(t, "remote", res.LLMUsed)
	assert.Equal(t, int64(2), res.HitCount)
}

func TestMismatchedAndZeroNormEmbeddingsNeverMatch(t *testing.T) {
	c := New(0.5, time.Hour)
	require.True(t, c.Set("stored", []float32{1, 0, 0}, "answer", "local", 0))

	_, ok := c.Get("other", []float32{1, 0}) // dimension mismatch
	assert.False(t, ok)
	_, ok = c.Get("other", []float32{0, 0, 0}) // zero norm
	assert.False(t, ok)
	_, ok = c.Get("other", nil) // empty
	assert.False(t, ok)
}

func TestSweepEvictsExpired(t *testing.T) {
	c := New(0.95, 5*time.Millisecond)
	require.True(t, c.Set("a", []float32{1}, "ra", "local", 1))
	require.True(t, c.Set("b", []float32{1}, "rb", "local", 1))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 0, c.Stats().TotalEntries)
}

func TestStatsAggregates(t *testing.T) {
	c := New(0.95, time.Hour)
	require.True(t, c.Set("a", []float32{1, 0}, "ra", "local", 100))
	require.True(t, c.Set("b", []float32{0, 1}, "rb", "local", 50))

	_, ok := c.Get("a", []float32{1, 0})
	require.True(t, ok)
	_, ok = c.Get("a", []float32{1, 0})
	require.True(t, ok)

	st := c.Stats()
	assert.Equal(t, 2, st.TotalEntries)
	assert.Equal(t, int64(2), st.TotalHits)
	assert.Equal(t, int64(150), st.TotalTokensSaved)
	assert.InDelta(t, 1.0, st.AvgHitsPerEntry, 1e-9)
}
