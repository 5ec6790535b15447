package learning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/ralph"
)

// ProposalType enumerates the three optimization signals the scanner looks for.
type ProposalType string

const (
	ProposalIterationLimitIncrease   ProposalType = "iteration_limit_increase"
	ProposalDependencyCheckAddition  ProposalType = "dependency_check_addition"
	ProposalTimeoutAdjustment        ProposalType = "timeout_adjustment"
)

// Proposal mirrors the data model's Proposal entity.
type Proposal struct {
	ProposalID       string       `json:"proposal_id"`
	ProposalType     ProposalType `json:"proposal_type"`
	Title            string       `json:"title"`
	Rationale        string       `json:"rationale"`
	RecommendedAction string      `json:"recommended_action"`
	Evidence         []string     `json:"evidence"`
	Status           string       `json:"status"`
	ApprovalRequired bool         `json:"approval_required"`
	SubmittedAsTask  string       `json:"submitted_as_task,omitempty"`
}

func proposalHash(p Proposal) string {
	sum := sha256.Sum256([]byte(string(p.ProposalType) + "\x00" + p.Title + "\x00" + p.RecommendedAction))
	return hex.EncodeToString(sum[:])
}

var dependencyErrorPattern = regexp.MustCompile(`(?i)connection (refused|reset|timed out)|could not connect|dial tcp.*connect`)
var timeoutErrorPattern = regexp.MustCompile(`(?i)context deadline exceeded|timeout|timed out`)

// iterationCapHitEvent records that a Ralph task exhausted its
// adaptive limit — the raw event shape the learning loop scans.
type iterationCapHitEvent struct {
	TaskType string `json:"task_type"`
}

// errorEvent carries last_error text for the dependency/timeout scans.
type errorEvent struct {
	TaskType  string `json:"task_type"`
	LastError string `json:"last_error"`
}

// ProposalGenerator scans a batch of events for optimization signals
// and deduplicates proposals against an on-disk log.
type ProposalGenerator struct {
	logPath string
	engine  *ralph.Engine
	capPerBatch int

	mu   sync.Mutex
	seen map[string]bool
}

func NewProposalGenerator(logPath string, engine *ralph.Engine, capPerBatch int) *ProposalGenerator {
	if capPerBatch <= 0 {
		capPerBatch = 20
	}
	g := &ProposalGenerator{logPath: logPath, engine: engine, capPerBatch: capPerBatch, seen: make(map[string]bool)}
	g.loadLog()
	return g
}

func (g *ProposalGenerator) loadLog() {
	data, err := os.ReadFile(g.logPath)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var p Proposal
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			continue
		}
		g.seen[proposalHash(p)] = true
	}
}

func (g *ProposalGenerator) appendLog(p Proposal) error {
	f, err := os.OpenFile(g.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperrors.New("learning.appendLog", apperrors.KindInternal, err)
	}
	defer f.Close()
	line, err := json.Marshal(p)
	if err != nil {
		return apperrors.New("learning.appendLog", apperrors.KindInternal, err)
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// Apply records an externally-submitted Proposal (e.g. from the
// /proposals/apply route) against the same dedup ledger Scan uses:
// a proposal whose hash has already been seen — generated by a prior
// Scan, or applied once before — is rejected rather than double-applied.
func (g *ProposalGenerator) Apply(p Proposal) (Proposal, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	hash := proposalHash(p)
	if g.seen[hash] {
		p.Status = "rejected"
		return p, false, nil
	}
	g.seen[hash] = true
	if p.ProposalID == "" {
		p.ProposalID = uuid.NewString()
	}
	p.Status = "applied"
	if err := g.appendLog(p); err != nil {
		return p, false, err
	}
	return p, true, nil
}

// Scan produces deduped proposals from a batch of events, capped at
// capPerBatch, optionally submitting each as a require_approval Ralph
// task when an engine is configured.
func (g *ProposalGenerator) Scan(events []RawEvent) []Proposal {
	g.mu.Lock()
	defer g.mu.Unlock()

	capHits := map[string]int{}
	depErrors := map[string][]string{}
	timeoutErrors := map[string][]string{}

	for _, ev := range events {
		switch ev.Type {
		case "iteration_cap_hit":
			var e iterationCapHitEvent
			if ev.Decode(&e) == nil && e.TaskType != "" {
				capHits[e.TaskType]++
			}
		case "task_failed", "task_error":
			var e errorEvent
			if ev.Decode(&e) != nil || e.LastError == "" {
				continue
			}
			if dependencyErrorPattern.MatchString(e.LastError) {
				depErrors[e.TaskType] = append(depErrors[e.TaskType], e.LastError)
			} else if timeoutErrorPattern.MatchString(e.LastError) {
				timeoutErrors[e.TaskType] = append(timeoutErrors[e.TaskType], e.LastError)
			}
		}
	}

	var out []Proposal
	addIfRoom := func(p Proposal) bool {
		if len(out) >= g.capPerBatch {
			return false
		}
		hash := proposalHash(p)
		if g.seen[hash] {
			return true
		}
		g.seen[hash] = true
		p.ProposalID = uuid.NewString()
		p.Status = "pending"
		p.ApprovalRequired = true
		_ = g.appendLog(p)
		if g.engine != nil {
			task := g.engine.SubmitTask(ralph.SubmitRequest{
				Prompt:          p.Title + ": " + p.RecommendedAction,
				TaskType:        "proposal_application",
				Backend:         "claude",
				RequireApproval: true,
				IterationMode:   ralph.ModeFixed,
				MaxIterations:   3,
				Context:         map[string]interface{}{"proposal": p},
			})
			p.SubmittedAsTask = task.TaskID
		}
		out = append(out, p)
		return true
	}

	for taskType, count := range capHits {
		addIfRoom(Proposal{
			ProposalType:      ProposalIterationLimitIncrease,
			Title:             "Increase iteration limit for " + taskType,
			Rationale:         "task type repeatedly hit its adaptive iteration cap",
			RecommendedAction: "increase max_iterations by 25% for task_type=" + taskType,
			Evidence:          []string{taskType},
		})
		_ = count
	}
	for taskType, errs := range depErrors {
		addIfRoom(Proposal{
			ProposalType:      ProposalDependencyCheckAddition,
			Title:             "Add pre-flight dependency check for " + taskType,
			Rationale:         "dependency-connection errors observed in task failures",
			RecommendedAction: "add a pre-flight dependency health check before running task_type=" + taskType,
			Evidence:          errs,
		})
	}
	for taskType, errs := range timeoutErrors {
		addIfRoom(Proposal{
			ProposalType:      ProposalTimeoutAdjustment,
			Title:             "Increase timeout for " + taskType,
			Rationale:         "timeout-classified errors observed in task failures",
			RecommendedAction: "increase timeout by 20% for task_type=" + taskType,
			Evidence:          errs,
		})
	}
	return out
}
