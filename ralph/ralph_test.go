package ralph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedAgent struct {
	results []IterationResult
	calls   int
}

func (a *scriptedAgent) Invoke(ctx context.Context, prompt string, taskContext map[string]interface{}, iteration int) (IterationResult, error) {
	idx := a.calls
	a.calls++
	if idx >= len(a.results) {
		return a.results[len(a.results)-1], nil
	}
	return a.results[idx], nil
}

func waitForTerminal(t *testing.T, e *Engine, taskID string) *Task {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for task to terminate")
		default:
		}
		task, ok := e.GetTask(taskID)
		require.True(t, ok)
		switch task.Status {
		case StatusCompleted, StatusRejected, StatusStopped, StatusFailed:
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngineCompletesOnImmediateCompletedFlag(t *testing.T) {
	agent := &scriptedAgent{results: []IterationResult{{ExitCode: 0, Completed: true}}}
	e := New(agent)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	task := e.SubmitTask(SubmitRequest{Prompt: "fix a typo", TaskType: "fix", Backend: "claude"})
	final := waitForTerminal(t, e, task.TaskID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "success", final.CompletionReason)
}

func TestEngineCompletionHeuristicThreeCleanIterations(t *testing.T) {
	agent := &scriptedAgent{results: []IterationResult{
		{ExitCode: 0, Output: "still working, TODO more"},
		{ExitCode: 0, Output: "clean output"},
		{ExitCode: 0, Output: "clean output"},
		{ExitCode: 0, Output: "clean output"},
	}}
	e := New(agent)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	task := e.SubmitTask(SubmitRequest{Prompt: "simple fix", TaskType: "fix", Backend: "claude", IterationMode: ModeFixed, MaxIterations: 10})
	final := waitForTerminal(t, e, task.TaskID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 4, final.Iteration)
}

func TestEngineBlockedExitCodeReentersLoop(t *testing.T) {
	agent := &scriptedAgent{results: []IterationResult{
		{ExitCode: BlockedExitCode, Output: "blocked"},
		{ExitCode: 0, Completed: true},
	}}
	stopped := false
	e := New(agent, WithHooks(Hooks{OnStop: func(ctx context.Context, task *Task) error {
		stopped = true
		return nil
	}}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	task := e.SubmitTask(SubmitRequest{Prompt: "fix", TaskType: "fix", Backend: "claude"})
	final := waitForTerminal(t, e, task.TaskID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.True(t, stopped)
}

func TestEngineFixedModeExceedsLimitFails(t *testing.T) {
	agent := &scriptedAgent{results: []IterationResult{{ExitCode: 0, Output: "incomplete"}}}
	e := New(agent)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	task := e.SubmitTask(SubmitRequest{Prompt: "x", TaskType: "fix", Backend: "claude", IterationMode: ModeFixed, MaxIterations: 2})
	final := waitForTerminal(t, e, task.TaskID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, "iteration_limit_exceeded", final.CompletionReason)
}

type rejectingApprover struct{}

func (rejectingApprover) RequestApproval(ctx context.Context, task *Task) (bool, error) {
	return false, nil
}

func TestEngineRequireApprovalRejectedStopsTask(t *testing.T) {
	agent := &scriptedAgent{results: []IterationResult{
		{ExitCode: 0, Output: "incomplete"},
		{ExitCode: 0, Output: "incomplete"},
	}}
	e := New(agent, WithApprover(rejectingApprover{}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	task := e.SubmitTask(SubmitRequest{Prompt: "x", TaskType: "fix", Backend: "claude", RequireApproval: true, IterationMode: ModeFixed, MaxIterations: 5})
	final := waitForTerminal(t, e, task.TaskID)
	assert.Equal(t, StatusRejected, final.Status)
}

func TestStopTaskOnUnknownTaskErrors(t *testing.T) {
	e := New(&scriptedAgent{})
	err := e.StopTask("does-not-exist")
	assert.Error(t, err)
}

func TestClassifyComplexityBuckets(t *testing.T) {
	assert.Equal(t, BucketSimple, ClassifyComplexity("fix typo"))
	assert.Equal(t, BucketModerate, ClassifyComplexity("fix the login bug"))
	assert.Equal(t, BucketVeryComplex, ClassifyComplexity("full rewrite of the entire system across the codebase with a complete redesign and migrate everything"))
}

func TestHistoryFactorThresholds(t *testing.T) {
	assert.Equal(t, 0.8, historyFactor(0.9, 3))
	assert.Equal(t, 1.0, historyFactor(0.7, 10))
	assert.Equal(t, 1.2, historyFactor(0.5, 10))
	assert.Equal(t, 1.5, historyFactor(0.1, 10))
}

func TestResolveMaxIterationsExemptsSmallHistorySample(t *testing.T) {
	e := New(&scriptedAgent{})
	e.history.record("fix", "claude", historyEntry{Status: StatusFailed, Iterations: 20})
	e.history.record("fix", "claude", historyEntry{Status: StatusFailed, Iterations: 20})

	task := &Task{Prompt: "fix a typo", TaskType: "fix", Backend: "claude", IterationMode: ModeAdaptive}
	limit := e.resolveMaxIterations(task)
	assert.Equal(t, baseLimits[BucketModerate], limit)
}

func TestHistoryStoreCapsAt100(t *testing.T) {
	h := newHistoryStore(100)
	for i := 0; i < 150; i++ {
		h.record("fix", "claude", historyEntry{Status: StatusCompleted, Iterations: 2})
	}
	h.mu.Lock()
	n := len(h.entries[key("fix", "claude")])
	h.mu.Unlock()
	assert.Equal(t, 100, n)
}

func TestCompletionHeuristicRequiresThreeClean(t *testing.T) {
	assert.False(t, completionHeuristicSatisfied([]IterationResult{{ExitCode: 0}, {ExitCode: 0}}))
	assert.True(t, completionHeuristicSatisfied([]IterationResult{{ExitCode: 0}, {ExitCode: 0}, {ExitCode: 0}}))
	assert.False(t, completionHeuristicSatisfied([]IterationResult{{ExitCode: 0}, {ExitCode: 0}, {ExitCode: 0, Output: "TODO fix this"}}))
}
