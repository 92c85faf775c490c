package models

import "time"

// FailureReason identifies why a run did not converge.
type FailureReason string

const (
	ReasonPlanExhausted        FailureReason = "plan_exhausted"
	ReasonRoundBudgetExhausted FailureReason = "round_budget_exhausted"
	ReasonCancelled            FailureReason = "cancelled"
	ReasonBackendUnavailable   FailureReason = "backend_unavailable"
)

// Counters are the per-run round, stall and reset counters.
type Counters struct {
	Round int `json:"round"`
	Stall int `json:"stall"`
	Reset int `json:"reset"`
	// StallRetries counts retries taken since the last reset.
	StallRetries int `json:"stall_retries"`
}

// FinalResult is the answer produced for a completed run.
type FinalResult struct {
	Answer   string   `json:"answer"`
	Plan     *Plan    `json:"plan"`
	Counters Counters `json:"counters"`
	// Sources lists the ledger sequences the answer was derived from.
	Sources []int `json:"sources,omitempty"`
}

// FailureReport explains why a run failed.
type FailureReport struct {
	Reason   FailureReason `json:"reason"`
	Detail   string        `json:"detail,omitempty"`
	State    State         `json:"state"`
	Plan     *Plan         `json:"plan,omitempty"`
	Counters Counters      `json:"counters"`
	// LastError is the most recent error-tagged contribution, if any.
	LastError *Contribution `json:"last_error,omitempty"`
}

// Result is the outcome of a run. Exactly one of Final and Failure is set.
type Result struct {
	RunID      string         `json:"run_id"`
	State      State          `json:"state"`
	Final      *FinalResult   `json:"final,omitempty"`
	Failure    *FailureReport `json:"failure,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Succeeded returns true for completed runs.
func (r *Result) Succeeded() bool {
	return r != nil && r.State == StateComplete && r.Final != nil
}
