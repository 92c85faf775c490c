package orchestrator

import (
	"time"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// EventType represents the type of run event.
type EventType string

const (
	// EventRunStarted is emitted once when the run begins.
	EventRunStarted EventType = "run_started"
	// EventStateChanged indicates a state machine transition.
	EventStateChanged EventType = "state_changed"
	// EventDecision indicates the manager took a decision.
	EventDecision EventType = "decision"
	// EventContribution indicates an entry was appended to the shared context.
	EventContribution EventType = "contribution"
	// EventRunFinished is the last event of a run and carries the result.
	EventRunFinished EventType = "run_finished"
)

// Event is an intermediate observation of a run. Events are delivered in
// emission order; Seq numbers them so gaps from dropped events are visible.
type Event struct {
	// Seq is the 1-based emission index within the run.
	Seq uint64 `json:"seq"`
	// Type is the kind of event.
	Type EventType `json:"type"`
	// RunID identifies the run.
	RunID string `json:"run_id"`
	// Round is the round counter when the event was emitted.
	Round int `json:"round"`
	// State is the run state after the event.
	State models.State `json:"state"`
	// From is the previous state for state_changed events.
	From models.State `json:"from,omitempty"`
	// Decision is set for decision events.
	Decision *models.Decision `json:"decision,omitempty"`
	// Contribution is set for contribution events.
	Contribution *models.Contribution `json:"contribution,omitempty"`
	// Result is set for run_finished events.
	Result *models.Result `json:"result,omitempty"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}
