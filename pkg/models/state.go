package models

// State is the orchestrator-level lifecycle state of a run.
type State string

const (
	StatePlanning      State = "PLANNING"
	StateDispatching   State = "DISPATCHING"
	StateAwaitingAgent State = "AWAITING_AGENT"
	StateEvaluating    State = "EVALUATING"
	StateStalled       State = "STALLED"
	StateResetting     State = "RESETTING"
	StateComplete      State = "COMPLETE"
	StateFailed        State = "FAILED"
)

// transitions lists allowed moves. Any non-terminal state may also move to FAILED.
var transitions = map[State][]State{
	StatePlanning:      {StateDispatching},
	StateDispatching:   {StateAwaitingAgent, StateEvaluating},
	StateAwaitingAgent: {StateDispatching, StateEvaluating},
	StateEvaluating:    {StateDispatching, StateStalled, StateResetting, StateComplete},
	StateStalled:       {StateDispatching, StateResetting},
	StateResetting:     {StatePlanning},
}

// Valid returns true if the state is a known value.
func (s State) Valid() bool {
	switch s {
	case StatePlanning, StateDispatching, StateAwaitingAgent, StateEvaluating,
		StateStalled, StateResetting, StateComplete, StateFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for COMPLETE and FAILED.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// CanTransition reports whether a run may move from s to next.
func (s State) CanTransition(next State) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	if next == StateFailed {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
