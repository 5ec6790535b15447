package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeErrorHashCollapsesTimestampsAndIDs(t *testing.T) {
	a := ComputeErrorHash("task_failed", "fix", "request 2026-01-02 at 10:30:00 for user 4c9c1f2e-1e2b-4a3d-9f2e-1234567890ab failed after 3 retries")
	b := ComputeErrorHash("task_failed", "fix", "request 2026-07-29 at 22:15:41 for user 00000000-0000-0000-0000-000000000000 failed after 9 retries")
	assert.Equal(t, a, b, "timestamps, uuids, and bare integers should normalize to the same hash")
}

func TestComputeErrorHashDistinguishesMessages(t *testing.T) {
	a := ComputeErrorHash("task_failed", "fix", "connection refused")
	b := ComputeErrorHash("task_failed", "fix", "context deadline exceeded")
	assert.NotEqual(t, a, b)
}

func TestComputeErrorHashDistinguishesComponent(t *testing.T) {
	a := ComputeErrorHash("task_failed", "fix", "connection refused")
	b := ComputeErrorHash("task_failed", "review", "connection refused")
	assert.NotEqual(t, a, b)
}

func TestScanEventsSkipsEventsWithoutError(t *testing.T) {
	tracker := NewIssueTracker(nil)
	ev := proposalRawEvent(t, errorEvent{TaskType: "fix", LastError: ""})
	ev.Type = "task_failed"

	err := tracker.ScanEvents(context.Background(), []RawEvent{ev})
	require.NoError(t, err)
}

func TestScanEventsIgnoresUnrelatedEventTypes(t *testing.T) {
	tracker := NewIssueTracker(nil)
	ev := proposalRawEvent(t, errorEvent{TaskType: "fix", LastError: "connection refused"})
	ev.Type = "task_completed"

	err := tracker.ScanEvents(context.Background(), []RawEvent{ev})
	require.NoError(t, err)
}

func TestClassifyMatchesDependencyAndTimeoutPatterns(t *testing.T) {
	severity, category := classify("dial tcp 10.0.0.5:5432: connect: connection refused")
	assert.Equal(t, "high", severity)
	assert.Equal(t, "dependency_failure", category)

	severity, category = classify("context deadline exceeded")
	assert.Equal(t, "medium", severity)
	assert.Equal(t, "timeout", category)

	severity, category = classify("unexpected EOF")
	assert.Equal(t, "low", severity)
	assert.Equal(t, "unclassified", category)
}

func TestScanEventsNilTrackerIsNoOp(t *testing.T) {
	var tracker *IssueTracker
	ev := proposalRawEvent(t, errorEvent{TaskType: "fix", LastError: "connection refused"})
	ev.Type = "task_failed"

	err := tracker.ScanEvents(context.Background(), []RawEvent{ev})
	require.NoError(t, err)
}
