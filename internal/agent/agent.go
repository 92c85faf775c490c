// Package agent defines specialized agents, the static registry the
// orchestrator selects from, and the invoker that turns agent failures into
// error-tagged contributions.
package agent

import (
	"context"
	"errors"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// Agent failure classes. Implementations wrap these with %w; anything else is
// treated as an execution error.
var (
	ErrUnavailable = errors.New("agent unavailable")
	ErrTimeout     = errors.New("agent timeout")
	ErrExecution   = errors.New("agent execution error")
)

// Request is a single sub-task handed to an agent.
type Request struct {
	// Task is the original task statement.
	Task string
	// SubGoalID identifies the plan step being worked on.
	SubGoalID string
	// SubTask is the instruction for this invocation.
	SubTask string
	// Round is the orchestrator round of the invocation.
	Round int
	// View is a read-only projection of the shared context.
	View []models.Contribution
}

// Response is what an agent produced.
type Response struct {
	Payload string
	// Partial marks useful output that does not finish the sub-goal.
	Partial bool
}

// Agent produces a contribution for a sub-task.
type Agent interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to the Agent interface.
type Func func(ctx context.Context, req Request) (Response, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
