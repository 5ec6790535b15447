package learning

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proposalRawEvent(t *testing.T, v interface{}) RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var ev RawEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestScanDetectsDependencyConnectionErrors(t *testing.T) {
	dir := t.TempDir()
	g := NewProposalGenerator(filepath.Join(dir, "proposals.jsonl"), nil, 10)
	events := []RawEvent{proposalRawEvent(t, errorEvent{TaskType: "fix", LastError: "dial tcp 10.0.0.5:5432: connect: connection refused"})}
	events[0].Type = "task_failed"

	proposals := g.Scan(events)
	require.Len(t, proposals, 1)
	assert.Equal(t, ProposalDependencyCheckAddition, proposals[0].ProposalType)
}

func TestScanDetectsTimeoutErrors(t *testing.T) {
	dir := t.TempDir()
	g := NewProposalGenerator(filepath.Join(dir, "proposals.jsonl"), nil, 10)
	ev := proposalRawEvent(t, errorEvent{TaskType: "fix", LastError: "context deadline exceeded"})
	ev.Type = "task_failed"

	proposals := g.Scan([]RawEvent{ev})
	require.Len(t, proposals, 1)
	assert.Equal(t, ProposalTimeoutAdjustment, proposals[0].ProposalType)
}

func TestScanDedupesAgainstLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "proposals.jsonl")
	g := NewProposalGenerator(logPath, nil, 10)
	ev := proposalRawEvent(t, errorEvent{TaskType: "fix", LastError: "context deadline exceeded"})
	ev.Type = "task_failed"

	first := g.Scan([]RawEvent{ev})
	require.Len(t, first, 1)

	g2 := NewProposalGenerator(logPath, nil, 10)
	second := g2.Scan([]RawEvent{ev})
	assert.Empty(t, second)
}

func TestApplyPersistsNewProposal(t *testing.T) {
	dir := t.TempDir()
	g := NewProposalGenerator(filepath.Join(dir, "proposals.jsonl"), nil, 10)

	applied, ok, err := g.Apply(Proposal{
		ProposalType:      ProposalTimeoutAdjustment,
		Title:             "raise fix timeout",
		RecommendedAction: "increase timeout to 60s",
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "applied", applied.Status)
	assert.NotEmpty(t, applied.ProposalID)
}

func TestApplyRejectsAlreadySeenProposal(t *testing.T) {
	dir := t.TempDir()
	g := NewProposalGenerator(filepath.Join(dir, "proposals.jsonl"), nil, 10)
	p := Proposal{
		ProposalType:      ProposalTimeoutAdjustment,
		Title:             "raise fix timeout",
		RecommendedAction: "increase timeout to 60s",
	}

	_, ok, err := g.Apply(p)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = g.Apply(p)
	require.NoError(t, err)
	assert.False(t, ok, "a proposal with a hash already seen must be rejected, not double-applied")
}

func TestApplyRejectsProposalAlreadyGeneratedByScan(t *testing.T) {
	dir := t.TempDir()
	g := NewProposalGenerator(filepath.Join(dir, "proposals.jsonl"), nil, 10)
	ev := proposalRawEvent(t, errorEvent{TaskType: "fix", LastError: "context deadline exceeded"})
	ev.Type = "task_failed"

	scanned := g.Scan([]RawEvent{ev})
	require.Len(t, scanned, 1)

	_, ok, err := g.Apply(scanned[0])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanCapsPerBatch(t *testing.T) {
	dir := t.TempDir()
	g := NewProposalGenerator(filepath.Join(dir, "proposals.jsonl"), nil, 1)
	evA := proposalRawEvent(t, errorEvent{TaskType: "a", LastError: "timed out"})
	evA.Type = "task_failed"
	evB := proposalRawEvent(t, errorEvent{TaskType: "b", LastError: "timed out"})
	evB.Type = "task_failed"

	proposals := g.Scan([]RawEvent{evA, evB})
	assert.Len(t, proposals, 1)
}
