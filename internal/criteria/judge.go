package criteria

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/magentic/internal/backend"
	"github.com/ShayCichocki/magentic/internal/ledger"
	"github.com/ShayCichocki/magentic/pkg/models"
)

const judgeSystem = `You judge whether a team of agents has completed a task.
Reply with YES or NO on the first line, followed by one sentence of reasoning.`

// Judge asks the completion backend whether the task's criterion is met.
// The backend is only consulted once every sub-goal of the plan is done.
type Judge struct {
	backend backend.Backend
}

// NewJudge creates a judge criterion.
func NewJudge(b backend.Backend) *Judge {
	return &Judge{backend: b}
}

// Met implements Criterion.
func (j *Judge) Met(ctx context.Context, snap models.Snapshot) (bool, error) {
	if !snap.Plan.Done() {
		return false, nil
	}

	criterion := snap.Task.Criterion
	if criterion == "" {
		criterion = "The task statement is fully answered."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\nCompletion criterion:\n%s\n\n", snap.Task.Statement, criterion)
	fmt.Fprintf(&b, "Agent contributions:\n%s\n\nIs the criterion met?", ledger.Render(snap.AgentOutputs()))

	out, err := j.backend.Complete(ctx, backend.Prompt{System: judgeSystem, User: b.String(), MaxTokens: 256})
	if err != nil {
		return false, fmt.Errorf("judge completion: %w", err)
	}
	return IsAffirmative(out), nil
}

// IsAffirmative reports whether a judge reply starts with YES.
func IsAffirmative(reply string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(reply)), "YES")
}
