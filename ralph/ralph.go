// Package ralph implements the autonomous re-entrant loop engine: a
// single-consumer FIFO of tasks, each iterated against a backend agent
// until a completion heuristic or adaptive limit is hit. Tasks that
// require approval block each iteration on an operator decision, with
// a timeout that rejects rather than waits forever.
package ralph

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/logging"
)

// Status is a Task's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// IterationMode selects how max_iterations is determined.
type IterationMode string

const (
	ModeAdaptive IterationMode = "adaptive"
	ModeInfinite IterationMode = "infinite"
	ModeFixed    IterationMode = "fixed"
)

// BlockedExitCode is the exit code an agent returns to ask Ralph to
// re-enter the loop verbatim (the defining "Ralph" behaviour).
const BlockedExitCode = 42

// IterationResult is what an Agent.Invoke call returns for one iteration.
type IterationResult struct {
	ExitCode  int
	Output    string
	Err       error
	Completed bool
}

// Agent runs one iteration of a backend (Claude Code, a shell harness,
// whatever the deployment wires in) against a prompt and accumulated
// context.
type Agent interface {
	Invoke(ctx context.Context, prompt string, taskContext map[string]interface{}, iteration int) (IterationResult, error)
}

// ApprovalRequester asks a human to approve iteration i>1 of a task
// that has require_approval set, blocking up to the caller's context
// deadline.
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, task *Task) (approved bool, err error)
}

// Hooks are optional callbacks invoked around a blocked re-entry.
type Hooks struct {
	OnStop     func(ctx context.Context, task *Task) error
	OnRecovery func(ctx context.Context, task *Task) error
}

// EventEmitter emits ralph-events.jsonl telemetry, consumed by the
// continuous-learning pipeline for iteration-cap-hit proposals and
// task_completed pattern extraction.
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, payload map[string]interface{}) error
}

// Task is one submitted goal and its full iteration history.
type Task struct {
	TaskID           string                 `json:"task_id"`
	Prompt           string                 `json:"prompt"`
	Backend          string                 `json:"backend"`
	TaskType         string                 `json:"task_type"`
	MaxIterations    int                    `json:"max_iterations"`
	IterationMode    IterationMode          `json:"iteration_mode"`
	RequireApproval  bool                   `json:"require_approval"`
	Context          map[string]interface{} `json:"context"`
	Status           Status                 `json:"status"`
	Iteration        int                    `json:"iteration"`
	StartedAt        time.Time              `json:"started_at"`
	LastUpdate       time.Time              `json:"last_update"`
	Results          []IterationResult      `json:"results"`
	Error            string                 `json:"error,omitempty"`
	AwaitingApproval bool                   `json:"awaiting_approval"`
	Approved         *bool                  `json:"approved,omitempty"`
	CompletionReason string                 `json:"completion_reason,omitempty"`

	stopRequested bool
}

// SubmitRequest describes a task to be enqueued.
type SubmitRequest struct {
	Prompt          string
	Backend         string
	TaskType        string
	MaxIterations   int
	IterationMode   IterationMode
	RequireApproval bool
	Context         map[string]interface{}
}

// Engine is the Ralph loop: a single background worker draining a FIFO
// queue, one task run to completion (or limit/rejection) before the
// next is dequeued.
type Engine struct {
	agent           Agent
	approver        ApprovalRequester
	hooks           Hooks
	logger          logging.Logger
	events          EventEmitter
	approvalTimeout time.Duration
	blockedExitCode int
	minIterations   int
	maxIterationsCap int
	historyCap      int

	mu      sync.Mutex
	queue   []*Task
	notify  chan struct{}
	tasks   map[string]*Task
	history *historyStore

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

func WithApprover(a ApprovalRequester) Option { return func(e *Engine) { e.approver = a } }
func WithHooks(h Hooks) Option                { return func(e *Engine) { e.hooks = h } }
func WithEventEmitter(ev EventEmitter) Option  { return func(e *Engine) { e.events = ev } }
func WithApprovalTimeout(d time.Duration) Option {
	return func(e *Engine) { e.approvalTimeout = d }
}

// WithBlockedExitCode overrides the exit code that triggers the
// re-enter-the-loop behavior (default BlockedExitCode).
func WithBlockedExitCode(code int) Option { return func(e *Engine) { e.blockedExitCode = code } }

// WithIterationBounds overrides the floor and ceiling resolveMaxIterations
// clamps its adaptive-mode result to (defaults 1 and 100).
func WithIterationBounds(minIter, maxIter int) Option {
	return func(e *Engine) { e.minIterations = minIter; e.maxIterationsCap = maxIter }
}

// WithHistoryCapacity overrides how many terminal outcomes the adaptive
// limit's per-(task_type, backend) history window retains (default 100).
func WithHistoryCapacity(n int) Option { return func(e *Engine) { e.historyCap = n } }

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if cal, ok := l.(logging.ComponentAwareLogger); ok {
			e.logger = cal.WithComponent("ralph/engine")
			return
		}
		e.logger = l
	}
}

// New creates an Engine bound to the given backend Agent.
func New(agent Agent, opts ...Option) *Engine {
	e := &Engine{
		agent:            agent,
		logger:           logging.NoOpLogger{},
		approvalTimeout:  5 * time.Minute,
		blockedExitCode:  BlockedExitCode,
		minIterations:    1,
		maxIterationsCap: 100,
		historyCap:       100,
		notify:           make(chan struct{}, 1),
		tasks:            make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.history = newHistoryStore(e.historyCap)
	return e
}

// Start launches the single consumer goroutine. It returns
// immediately; the loop runs until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		e.cancel = cancel
		e.wg.Add(1)
		go e.run(runCtx)
	})
}

// Shutdown cancels the consumer loop and waits for the in-flight task
// iteration to finish.
func (e *Engine) Shutdown() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// SubmitTask enqueues a task non-blocking, preserving submit order.
func (e *Engine) SubmitTask(req SubmitRequest) *Task {
	task := &Task{
		TaskID:          uuid.NewString(),
		Prompt:          req.Prompt,
		Backend:         req.Backend,
		TaskType:        req.TaskType,
		MaxIterations:   req.MaxIterations,
		IterationMode:   req.IterationMode,
		RequireApproval: req.RequireApproval,
		Context:         req.Context,
		Status:          StatusQueued,
		LastUpdate:      time.Now(),
	}
	if task.Context == nil {
		task.Context = map[string]interface{}{}
	}
	if task.IterationMode == "" {
		task.IterationMode = ModeAdaptive
	}

	e.mu.Lock()
	e.tasks[task.TaskID] = task
	e.queue = append(e.queue, task)
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
	return task
}

// GetTask returns a snapshot of a task's current state.
func (e *Engine) GetTask(taskID string) (*Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[taskID]
	return t, ok
}

// StopTask cooperatively cancels a task: the flag is checked between
// iterations, so an in-flight iteration always completes, but no
// further iteration is scheduled.
func (e *Engine) StopTask(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[taskID]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "no such ralph task: %s", taskID)
	}
	t.stopRequested = true
	return nil
}

func (e *Engine) dequeue() *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil
	}
	t := e.queue[0]
	e.queue = e.queue[1:]
	return t
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task := e.dequeue()
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-e.notify:
				continue
			case <-time.After(time.Second):
				continue
			}
		}

		e.runTask(ctx, task)
	}
}

// runTask executes the full iteration contract for one task,
// sequentially — only one iteration of one task runs at a
// time by construction, since this is the sole consumer goroutine.
func (e *Engine) runTask(ctx context.Context, task *Task) {
	task.Status = StatusRunning
	task.StartedAt = time.Now()

	limit := e.resolveMaxIterations(task)

	for i := 1; ; i++ {
		if task.stopRequested {
			task.Status = StatusStopped
			task.LastUpdate = time.Now()
			e.recordTerminal(task)
			return
		}
		if task.IterationMode != ModeInfinite && i > limit {
			task.Status = StatusFailed
			task.CompletionReason = "iteration_limit_exceeded"
			task.LastUpdate = time.Now()
			if e.events != nil {
				_ = e.events.Emit(context.Background(), "iteration_cap_hit", map[string]interface{}{
					"task_id": task.TaskID, "task_type": task.TaskType, "backend": task.Backend, "max_iterations": limit,
				})
			}
			e.recordTerminal(task)
			return
		}

		if task.RequireApproval && i > 1 {
			approved, err := e.awaitApproval(ctx, task)
			if err != nil || !approved {
				task.Status = StatusRejected
				task.CompletionReason = "approval_rejected_or_timeout"
				task.LastUpdate = time.Now()
				e.recordTerminal(task)
				return
			}
		}

		task.Iteration = i
		result, err := e.invoke(ctx, task, i)
		task.LastUpdate = time.Now()
		if err != nil {
			task.Error = err.Error()
			e.logger.WarnWithContext(ctx, "ralph iteration error, continuing", logging.Fields{
				"task_id": task.TaskID, "iteration": i, "error": err.Error(),
			})
			task.Context["last_exception"] = err.Error()
			continue
		}

		task.Results = append(task.Results, result)

		switch {
		case result.ExitCode == e.blockedExitCode:
			if e.hooks.OnStop != nil {
				_ = e.hooks.OnStop(ctx, task)
			}
			if e.hooks.OnRecovery != nil {
				_ = e.hooks.OnRecovery(ctx, task)
			}
			continue
		case result.ExitCode == 0 && (result.Completed || completionHeuristicSatisfied(task.Results)):
			task.Status = StatusCompleted
			task.CompletionReason = "success"
			e.recordTerminal(task)
			return
		case result.ExitCode == 0:
			task.Context["last_error"] = result.Err
			continue
		default:
			task.Context["last_error"] = result.Output
			e.logger.InfoWithContext(ctx, "ralph iteration non-zero exit, continuing", logging.Fields{
				"task_id": task.TaskID, "iteration": i, "exit_code": result.ExitCode,
			})
			continue
		}
	}
}

func (e *Engine) invoke(ctx context.Context, task *Task, i int) (result IterationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Newf(apperrors.KindInternal, "ralph agent panic: %v", r)
		}
	}()
	result, err = e.agent.Invoke(ctx, task.Prompt, task.Context, i)
	return
}

func (e *Engine) awaitApproval(ctx context.Context, task *Task) (bool, error) {
	task.AwaitingApproval = true
	defer func() { task.AwaitingApproval = false }()

	if e.approver == nil {
		return false, apperrors.Newf(apperrors.KindValidation, "require_approval set but no approver configured")
	}

	approveCtx, cancel := context.WithTimeout(ctx, e.approvalTimeout)
	defer cancel()

	approved, err := e.approver.RequestApproval(approveCtx, task)
	if err != nil {
		return false, err
	}
	b := approved
	task.Approved = &b
	return approved, nil
}

// completionHeuristicSatisfied: the last three
// iterations all exit 0 with no TODO/FIXME/ERROR/FAILED markers.
func completionHeuristicSatisfied(results []IterationResult) bool {
	if len(results) < 3 {
		return false
	}
	last3 := results[len(results)-3:]
	markers := []string{"TODO", "FIXME", "ERROR", "FAILED"}
	for _, r := range last3 {
		if r.ExitCode != 0 {
			return false
		}
		upper := strings.ToUpper(r.Output)
		for _, m := range markers {
			if strings.Contains(upper, m) {
				return false
			}
		}
	}
	return true
}

func (e *Engine) recordTerminal(task *Task) {
	e.history.record(task.TaskType, task.Backend, historyEntry{
		Status:     task.Status,
		Iterations: task.Iteration,
	})
	if e.events != nil {
		lastOutput := ""
		if n := len(task.Results); n > 0 {
			lastOutput = task.Results[n-1].Output
		}
		_ = e.events.Emit(context.Background(), "task_completed", map[string]interface{}{
			"task_id":           task.TaskID,
			"task_type":         task.TaskType,
			"backend":           task.Backend,
			"status":            string(task.Status),
			"completion_reason": task.CompletionReason,
			"iterations":        task.Iteration,
			"prompt":            task.Prompt,
			"response":          lastOutput,
			"success":           task.Status == StatusCompleted,
			"last_error":        task.Context["last_error"],
		})
	}
}

// Stats exposes per-(task_type, backend) history for the adaptive
// limit calculation and for external introspection.
func (e *Engine) Stats(taskType, backend string) HistoryStats {
	return e.history.stats(taskType, backend)
}
