package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/magentic/internal/backend"
	"github.com/ShayCichocki/magentic/internal/ledger"
)

// partialMarker lets an LLM agent flag output that does not finish its sub-goal.
const partialMarker = "PARTIAL:"

// LLM is an agent backed by the completion backend with its own instructions.
type LLM struct {
	name         string
	instructions string
	backend      backend.Backend
	maxTokens    int64
}

// NewLLM creates an LLM agent. Empty instructions fall back to the capability.
func NewLLM(name, capability, instructions string, b backend.Backend, maxTokens int64) *LLM {
	if instructions == "" {
		instructions = fmt.Sprintf("You are %s, a specialist agent on a team. %s", name, capability)
	}
	return &LLM{name: name, instructions: instructions, backend: b, maxTokens: maxTokens}
}

// Invoke completes the sub-task.
func (a *LLM) Invoke(ctx context.Context, req Request) (Response, error) {
	system := a.instructions + "\n\nAnswer only the assignment. If you could only make partial progress, start your reply with " + partialMarker
	out, err := a.backend.Complete(ctx, backend.Prompt{
		System:    system,
		User:      BuildPrompt(req),
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		if errors.Is(err, backend.ErrUnavailable) {
			return Response{}, fmt.Errorf("%s: %w: %v", a.name, ErrUnavailable, err)
		}
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("%s: %w: %v", a.name, ErrExecution, err)
	}

	out = strings.TrimSpace(out)
	if rest, ok := strings.CutPrefix(out, partialMarker); ok {
		return Response{Payload: strings.TrimSpace(rest), Partial: true}, nil
	}
	return Response{Payload: out}, nil
}

// BuildPrompt renders the task, shared context and assignment as a user message.
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\n", req.Task)
	if len(req.View) > 0 {
		fmt.Fprintf(&b, "Shared context:\n%s\n\n", ledger.Render(req.View))
	}
	fmt.Fprintf(&b, "Your assignment (%s, round %d):\n%s\n", req.SubGoalID, req.Round, req.SubTask)
	return b.String()
}
