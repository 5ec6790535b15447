package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleContextTruncatesToBudget(t *testing.T) {
	hits := []Hit{
		{ID: "a", Content: strings.Repeat("word ", 50)},
		{ID: "b", Content: strings.Repeat("word ", 50)},
		{ID: "c", Content: strings.Repeat("word ", 50)},
	}
	_, ids, tokens := AssembleContext(hits, DetailConcise, 40)
	require.NotEmpty(t, ids)
	assert.Less(t, len(ids), len(hits))
	assert.LessOrEqual(t, tokens, 40+65) // first included piece may exceed budget alone
}

func TestAssembleContextAlwaysIncludesAtLeastOne(t *testing.T) {
	hits := []Hit{{ID: "a", Content: strings.Repeat("word ", 1000)}}
	_, ids, _ := AssembleContext(hits, DetailConcise, 1)
	assert.Len(t, ids, 1)
}

func TestFormatHitDetailLevels(t *testing.T) {
	h := Hit{ID: "x", Collection: "codebase-context", Content: "hello world", Score: 0.5}
	assert.Equal(t, "hello world", FormatHit(h, DetailConcise))
	assert.Contains(t, FormatHit(h, DetailFull), "codebase-context")
	assert.Contains(t, FormatHit(h, DetailVerbose), "score:")
}

func TestExpandAlwaysKeepsOriginalFirst(t *testing.T) {
	out := Expand(nil, nil, "fix the keyring error", ExpansionKeyword)
	require.NotEmpty(t, out)
	assert.Equal(t, "fix the keyring error", out[0])
}

func TestExpandNoneReturnsOriginalOnly(t *testing.T) {
	out := Expand(nil, nil, "fix the keyring error", ExpansionNone)
	assert.Equal(t, []string{"fix the keyring error"}, out)
}
