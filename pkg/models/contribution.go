package models

import (
	"strings"
	"time"
)

// OrchestratorProducer is the producer name used for entries written by the orchestrator.
const OrchestratorProducer = "orchestrator"

// ContributionStatus tags the outcome of a contribution.
type ContributionStatus string

const (
	// StatusSuccess indicates the producer completed its work.
	StatusSuccess ContributionStatus = "success"
	// StatusError indicates the producer failed; the payload is a diagnostic.
	StatusError ContributionStatus = "error"
	// StatusPartial indicates useful output that does not finish the sub-goal.
	StatusPartial ContributionStatus = "partial"
)

// Valid returns true if the status is a known value.
func (s ContributionStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusPartial:
		return true
	default:
		return false
	}
}

// ContributionKind says what a ledger entry records.
type ContributionKind string

const (
	// KindTask is the initial task statement.
	KindTask ContributionKind = "task"
	// KindPlan records a new plan (initial or after a reset).
	KindPlan ContributionKind = "plan"
	// KindDecision records an orchestrator decision.
	KindDecision ContributionKind = "decision"
	// KindAgent is output (or failure) from a specialized agent.
	KindAgent ContributionKind = "agent"
	// KindSummary is a synthetic entry produced by a view summarizer.
	// Summaries only appear in views and are never appended.
	KindSummary ContributionKind = "summary"
)

// ErrorKind classifies agent failures.
type ErrorKind string

const (
	// ErrorKindNone is used for non-error contributions.
	ErrorKindNone ErrorKind = ""
	// ErrorKindUnavailable means the agent backend could not be reached.
	ErrorKindUnavailable ErrorKind = "agent_unavailable"
	// ErrorKindTimeout means the invocation exceeded its timeout.
	ErrorKindTimeout ErrorKind = "agent_timeout"
	// ErrorKindExecution means the agent ran but failed.
	ErrorKindExecution ErrorKind = "agent_execution_error"
)

// Contribution is one immutable entry of the shared context.
type Contribution struct {
	// Seq is the gapless sequence position assigned on append, starting at 1.
	Seq int `json:"seq"`
	// Producer is the orchestrator or the name of an agent.
	Producer string `json:"producer"`
	// Kind says what the entry records.
	Kind ContributionKind `json:"kind"`
	// Round is the decision cycle that produced the entry (0 for pre-loop entries).
	Round int `json:"round"`
	// SubGoalID links agent output to the sub-goal it addressed.
	SubGoalID string `json:"sub_goal_id,omitempty"`
	// Payload is the text or serialized data of the contribution.
	Payload string `json:"payload"`
	// Status is the outcome tag.
	Status ContributionStatus `json:"status"`
	// ErrorKind classifies error-tagged agent contributions.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	// Timestamp is when the entry was appended.
	Timestamp time.Time `json:"timestamp"`
}

// IsAgent returns true if the entry was produced by a specialized agent.
func (c Contribution) IsAgent() bool {
	return c.Kind == KindAgent
}

// Normalized returns the payload used for duplicate detection.
func (c Contribution) Normalized() string {
	return strings.Join(strings.Fields(strings.ToLower(c.Payload)), " ")
}
