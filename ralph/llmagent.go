package ralph

import (
	"context"
	"fmt"
	"strings"

	"github.com/itsneelabh/hybrid-coordinator/llmengine"
)

// LLMAgent is the simplest Agent backend: each iteration is one chat
// call against the local inference engine, with the accumulated
// context (including any stashed last_error/last_exception) folded
// into the prompt. It exists for harness_eval tasks and tests that
// don't need an external coding-agent CLI wired in; deployments that
// drive Claude Code, aider, or another external harness supply their
// own Agent implementation instead.
type LLMAgent struct {
	llm   *llmengine.Client
	model string
}

// NewLLMAgent builds an Agent that delegates each iteration to llm.
func NewLLMAgent(llm *llmengine.Client, model string) *LLMAgent {
	return &LLMAgent{llm: llm, model: model}
}

// Invoke asks the LLM to act on prompt given the accumulated context,
// treating a reply that contains "DONE", in any letter case, as a
// signal that the task is complete.
func (a *LLMAgent) Invoke(ctx context.Context, prompt string, taskContext map[string]interface{}, iteration int) (IterationResult, error) {
	var b strings.Builder
	b.WriteString(prompt)
	if lastErr, ok := taskContext["last_error"]; ok && lastErr != nil {
		fmt.Fprintf(&b, "\n\nPrevious iteration left this unresolved: %v", lastErr)
	}
	if lastExc, ok := taskContext["last_exception"]; ok && lastExc != nil {
		fmt.Fprintf(&b, "\n\nPrevious iteration raised: %v", lastExc)
	}
	fmt.Fprintf(&b, "\n\n(iteration %d) Reply with DONE once the task is fully complete.", iteration)

	resp, err := a.llm.Chat(ctx, llmengine.ChatRequest{
		Model: a.model,
		Messages: []llmengine.ChatMessage{
			{Role: "system", Content: "You are an autonomous coding agent working iteratively toward a goal."},
			{Role: "user", Content: b.String()},
		},
		Temperature: 0.2,
		MaxTokens:   1024,
	})
	if err != nil {
		return IterationResult{ExitCode: 1, Err: err}, nil
	}

	completed := strings.Contains(strings.ToUpper(resp.Content), "DONE")
	return IterationResult{ExitCode: 0, Output: resp.Content, Completed: completed}, nil
}
