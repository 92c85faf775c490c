package models

import "time"

// Task is the problem statement submitted to an orchestration run.
// It is immutable once the run starts.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Statement is the free-text problem description.
	Statement string `json:"statement"`
	// Criterion describes when the task counts as complete.
	// How it is evaluated depends on the configured completion criterion.
	Criterion string `json:"criterion,omitempty"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// SubGoalStatus represents the progress of a single sub-goal.
type SubGoalStatus string

const (
	// SubGoalPending indicates the sub-goal has not been satisfied yet.
	SubGoalPending SubGoalStatus = "pending"
	// SubGoalDone indicates an agent produced a successful contribution for it.
	SubGoalDone SubGoalStatus = "done"
)

// Valid returns true if the status is a known value.
func (s SubGoalStatus) Valid() bool {
	switch s {
	case SubGoalPending, SubGoalDone:
		return true
	default:
		return false
	}
}

// SubGoal is one step of a Plan.
type SubGoal struct {
	// ID is the unique identifier of the sub-goal within its plan.
	ID string `json:"id"`
	// Description is the instruction handed to the selected agent.
	Description string `json:"description"`
	// AgentHint names the agent the planner expects to handle this goal, if any.
	AgentHint string `json:"agent_hint,omitempty"`
	// DependsOn lists sub-goal IDs that must be done before this one is ready.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current progress of the sub-goal.
	Status SubGoalStatus `json:"status"`
	// Attempts counts dispatches of this sub-goal under the current plan.
	Attempts int `json:"attempts"`
	// Tried lists agents already dispatched for this goal, in order.
	Tried []string `json:"tried,omitempty"`
	// LastNote describes why the most recent attempt did not make progress.
	LastNote string `json:"last_note,omitempty"`
	// ResultSeq is the ledger sequence of the contribution that satisfied the goal.
	ResultSeq int `json:"result_seq,omitempty"`
}

// Plan is the orchestrator's current belief of how to achieve the task.
// It is replaced wholesale on reset and refined in place otherwise.
type Plan struct {
	// Version starts at 1 and increments on every replan.
	Version int `json:"version"`
	// Goals are the sub-goals in plan order.
	Goals []SubGoal `json:"goals"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{Version: p.Version, Goals: make([]SubGoal, len(p.Goals))}
	for i, g := range p.Goals {
		g.DependsOn = append([]string(nil), g.DependsOn...)
		g.Tried = append([]string(nil), g.Tried...)
		out.Goals[i] = g
	}
	return out
}

// Goal returns a pointer to the sub-goal with the given ID, or nil.
func (p *Plan) Goal(id string) *SubGoal {
	if p == nil {
		return nil
	}
	for i := range p.Goals {
		if p.Goals[i].ID == id {
			return &p.Goals[i]
		}
	}
	return nil
}

// Ready returns the pending sub-goals whose dependencies are all done, in plan order.
func (p *Plan) Ready() []*SubGoal {
	if p == nil {
		return nil
	}
	done := make(map[string]bool, len(p.Goals))
	for _, g := range p.Goals {
		if g.Status == SubGoalDone {
			done[g.ID] = true
		}
	}

	var ready []*SubGoal
	for i := range p.Goals {
		g := &p.Goals[i]
		if g.Status == SubGoalDone {
			continue
		}
		blocked := false
		for _, dep := range g.DependsOn {
			if !done[dep] {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, g)
		}
	}
	return ready
}

// Pending returns the number of sub-goals that are not done.
func (p *Plan) Pending() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, g := range p.Goals {
		if g.Status != SubGoalDone {
			n++
		}
	}
	return n
}

// Done returns true if the plan has goals and every one of them is done.
func (p *Plan) Done() bool {
	return p != nil && len(p.Goals) > 0 && p.Pending() == 0
}
