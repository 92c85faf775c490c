package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// Run-level failures. A failed run returns a *RunError that unwraps to one of
// these.
var (
	ErrPlanExhausted        = errors.New("plan exhausted")
	ErrRoundBudgetExhausted = errors.New("round budget exhausted")
	ErrCancelled            = errors.New("run cancelled")
	ErrBackendUnavailable   = errors.New("backend unavailable")
)

// RunError reports why a run ended in FAILED, with the diagnostic bundle.
type RunError struct {
	Reason models.FailureReason
	Report *models.FailureReport
}

func (e *RunError) Error() string {
	if e.Report != nil && e.Report.Detail != "" {
		return fmt.Sprintf("run failed: %s: %s", e.Reason, e.Report.Detail)
	}
	return fmt.Sprintf("run failed: %s", e.Reason)
}

// Unwrap returns the sentinel error matching the failure reason.
func (e *RunError) Unwrap() error {
	switch e.Reason {
	case models.ReasonPlanExhausted:
		return ErrPlanExhausted
	case models.ReasonRoundBudgetExhausted:
		return ErrRoundBudgetExhausted
	case models.ReasonCancelled:
		return ErrCancelled
	case models.ReasonBackendUnavailable:
		return ErrBackendUnavailable
	default:
		return nil
	}
}
