package orchestrator

import (
	"github.com/ShayCichocki/magentic/internal/orchestrator/policy"
	"github.com/ShayCichocki/magentic/pkg/models"
)

// StallAction is how a stall is resolved.
type StallAction int

const (
	// StallRetry re-dispatches the stalled sub-goal on another agent.
	StallRetry StallAction = iota
	// StallReset discards the plan and replans.
	StallReset
	// StallFail ends the run with plan_exhausted.
	StallFail
)

func (a StallAction) String() string {
	switch a {
	case StallRetry:
		return "retry"
	case StallReset:
		return "reset"
	default:
		return "fail"
	}
}

// StallController owns the round, stall and reset counters of a run and
// enforces their limits. It is used from the run goroutine only.
type StallController struct {
	limits   policy.Limits
	counters models.Counters
}

// NewStallController creates a controller with zeroed counters.
func NewStallController(limits policy.Limits) *StallController {
	return &StallController{limits: limits}
}

// Counters returns a copy of the current counters.
func (s *StallController) Counters() models.Counters {
	return s.counters
}

// NextRound increments the round counter. It returns false, leaving the
// counter unchanged, when the round budget is already spent.
func (s *StallController) NextRound() bool {
	if s.counters.Round >= s.limits.MaxRounds {
		return false
	}
	s.counters.Round++
	return true
}

// Observe records the outcome of a dispatch round. Progress clears the stall
// counter; anything else increments it.
func (s *StallController) Observe(progress bool) {
	if progress {
		s.counters.Stall = 0
		return
	}
	s.counters.Stall++
}

// Stalled reports whether the stall limit has been reached.
func (s *StallController) Stalled() bool {
	return s.counters.Stall >= s.limits.MaxStalls
}

// CanReset reports whether another plan reset is allowed.
func (s *StallController) CanReset() bool {
	return s.counters.Reset < s.limits.MaxResets
}

// Escalate decides how to resolve a stall. canRetry says whether an untried
// agent is available for the stalled sub-goal. A retry consumes one stall
// retry and clears the stall counter.
func (s *StallController) Escalate(canRetry bool) StallAction {
	if canRetry && s.counters.StallRetries < s.limits.MaxStallRetries {
		s.counters.StallRetries++
		s.counters.Stall = 0
		return StallRetry
	}
	if s.CanReset() {
		return StallReset
	}
	return StallFail
}

// OnReset records a full plan replacement.
func (s *StallController) OnReset() {
	s.counters.Reset++
	s.counters.Stall = 0
	s.counters.StallRetries = 0
}
