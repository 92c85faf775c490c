package models

import (
	"fmt"
	"strings"
)

// DecisionKind is the outcome of one orchestrator decision cycle.
type DecisionKind string

const (
	// DecisionDispatch hands one or more sub-tasks to agents.
	DecisionDispatch DecisionKind = "dispatch"
	// DecisionSynthesize declares the task complete.
	DecisionSynthesize DecisionKind = "synthesize"
	// DecisionStall reports that the stall limit was reached.
	DecisionStall DecisionKind = "stall"
	// DecisionReset discards the plan and replans.
	DecisionReset DecisionKind = "reset"
	// DecisionFail terminates the run.
	DecisionFail DecisionKind = "fail"
)

// Assignment pairs a sub-goal with the agent chosen to work on it.
type Assignment struct {
	// Agent is the name of the selected agent.
	Agent string `json:"agent"`
	// SubGoalID is the sub-goal being addressed.
	SubGoalID string `json:"sub_goal_id"`
	// SubTask is the instruction text sent to the agent.
	SubTask string `json:"sub_task"`
	// Retry is true when the same sub-goal was attempted before without progress.
	Retry bool `json:"retry,omitempty"`
}

// Decision is what the orchestrator chose to do in a round.
type Decision struct {
	Kind DecisionKind `json:"kind"`
	// Assignments is non-empty for dispatch decisions.
	Assignments []Assignment `json:"assignments,omitempty"`
	// Reason explains stall, reset and fail decisions.
	Reason string `json:"reason,omitempty"`
	// FailureReason is set for fail decisions.
	FailureReason FailureReason `json:"failure_reason,omitempty"`
}

// Dispatch builds a single-assignment dispatch decision.
func Dispatch(agent, subGoalID, subTask string) Decision {
	return Decision{
		Kind:        DecisionDispatch,
		Assignments: []Assignment{{Agent: agent, SubGoalID: subGoalID, SubTask: subTask}},
	}
}

// Fail builds a fail decision.
func Fail(reason FailureReason, detail string) Decision {
	return Decision{Kind: DecisionFail, FailureReason: reason, Reason: detail}
}

// String renders the decision for logs and the ledger.
func (d Decision) String() string {
	switch d.Kind {
	case DecisionDispatch:
		parts := make([]string, len(d.Assignments))
		for i, a := range d.Assignments {
			parts[i] = fmt.Sprintf("%s<-%s", a.Agent, a.SubGoalID)
			if a.Retry {
				parts[i] += " (retry)"
			}
		}
		return "dispatch " + strings.Join(parts, ", ")
	case DecisionFail:
		if d.Reason != "" {
			return fmt.Sprintf("fail %s: %s", d.FailureReason, d.Reason)
		}
		return "fail " + string(d.FailureReason)
	default:
		if d.Reason != "" {
			return fmt.Sprintf("%s: %s", d.Kind, d.Reason)
		}
		return string(d.Kind)
	}
}
