package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/hybrid-coordinator/query"
)

func newTestManager() *Manager {
	return New(nil, query.New(nil, nil), nil, 0)
}

func TestTurnCreatesSessionWhenIDEmpty(t *testing.T) {
	m := newTestManager()
	res, err := m.Turn(context.Background(), TurnRequest{Query: "fix keyring error"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, 1, res.TurnNumber)
}

func TestTurnRejectsEmptyQuery(t *testing.T) {
	m := newTestManager()
	_, err := m.Turn(context.Background(), TurnRequest{Query: ""})
	assert.Error(t, err)
}

func TestTurnDefaultsToStandardLevel(t *testing.T) {
	m := newTestManager()
	res, err := m.Turn(context.Background(), TurnRequest{SessionID: "s1", Query: "q"})
	require.NoError(t, err)
	assert.Len(t, res.CollectionsSearched, 2)
}

func TestTurnSkipsSuggestionsOnFirstTurn(t *testing.T) {
	m := newTestManager()
	res, err := m.Turn(context.Background(), TurnRequest{SessionID: "s1", Query: "q"})
	require.NoError(t, err)
	assert.Empty(t, res.Suggestions)
}

// buildPipelineRequest forwards whatever ids the session has already
// accumulated as query.Request.ExcludeIDs, so the pipeline drops them
// before rerank and context assembly ever sees them; the actual
// dropping is covered by query.excludeHits's own tests.
func TestBuildPipelineRequestForwardsAlreadySentIDs(t *testing.T) {
	s := &Session{ID: "carryover", ContextItemIDsSent: []string{"a", "b"}}
	req := TurnRequest{Query: "q"}
	spec := levelSpecs[LevelStandard]

	pr := buildPipelineRequest(s, req, spec, defaultCollectionOrder[:spec.numCollections])
	assert.Equal(t, []string{"a", "b"}, pr.ExcludeIDs)
}

func TestClearUnknownSessionIsNoop(t *testing.T) {
	m := newTestManager()
	err := m.Clear(context.Background(), "does-not-exist")
	assert.NoError(t, err)
}

func TestLoadCreatesFreshSessionWhenNoBackend(t *testing.T) {
	m := newTestManager()
	s, err := m.Load(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", s.ID)
	assert.Equal(t, 0, s.TurnCount)
}

func TestSplitLinesTrimsAndKeepsEmpty(t *testing.T) {
	out := splitLines("first \n\nsecond\t\nthird")
	assert.Equal(t, []string{"first", "", "second", "third"}, out)
}
