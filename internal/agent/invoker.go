package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// Outcome is the classified result of one invocation.
type Outcome struct {
	Agent    string
	Response Response
	Err      error
	// Kind is set when Err is non-nil.
	Kind     models.ErrorKind
	Duration time.Duration
	// Cancelled is true when the run context ended during the call.
	// Cancelled outcomes must not be recorded as contributions.
	Cancelled bool
}

// Contribution converts the outcome into a ledger entry for the given sub-goal.
func (o Outcome) Contribution(subGoalID string, round int) models.Contribution {
	c := models.Contribution{
		Producer:  o.Agent,
		Kind:      models.KindAgent,
		Round:     round,
		SubGoalID: subGoalID,
		Payload:   o.Response.Payload,
		Status:    models.StatusSuccess,
	}
	if o.Response.Partial {
		c.Status = models.StatusPartial
	}
	if o.Err != nil {
		c.Status = models.StatusError
		c.ErrorKind = o.Kind
		c.Payload = fmt.Sprintf("%s: %v", o.Kind, o.Err)
	}
	return c
}

// Invoker runs agents with a per-invocation timeout.
type Invoker struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewInvoker creates an invoker. A zero timeout disables the per-call limit.
func NewInvoker(timeout time.Duration, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{timeout: timeout, logger: logger}
}

type callResult struct {
	resp Response
	err  error
}

// Invoke calls e.Agent and classifies the result. It returns as soon as the
// call finishes, the timeout elapses, or ctx is done, even if the agent
// ignores its context.
func (i *Invoker) Invoke(ctx context.Context, e Entry, req Request) Outcome {
	name := e.Descriptor.Name
	start := time.Now()

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if i.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, i.timeout)
	}
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callResult{err: fmt.Errorf("%w: panic: %v", ErrExecution, p)}
			}
		}()
		resp, err := e.Agent.Invoke(callCtx, req)
		done <- callResult{resp: resp, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}

	out := Outcome{Agent: name, Response: res.resp, Err: res.err, Duration: time.Since(start)}
	if ctx.Err() != nil {
		out.Cancelled = true
		out.Err = ctx.Err()
		return out
	}
	if out.Err == nil {
		return out
	}

	switch {
	case errors.Is(out.Err, ErrUnavailable):
		out.Kind = models.ErrorKindUnavailable
	case errors.Is(out.Err, ErrTimeout), errors.Is(out.Err, context.DeadlineExceeded):
		out.Kind = models.ErrorKindTimeout
		if errors.Is(out.Err, context.DeadlineExceeded) {
			out.Err = fmt.Errorf("%w: no response within %s", ErrTimeout, i.timeout)
		}
	default:
		out.Kind = models.ErrorKindExecution
	}
	out.Response = Response{}

	i.logger.Warn("agent invocation failed",
		"agent", name,
		"sub_goal", req.SubGoalID,
		"round", req.Round,
		"error_kind", string(out.Kind),
		"error", strings.TrimSpace(out.Err.Error()),
	)
	return out
}
