package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/magentic/internal/agent"
	"github.com/ShayCichocki/magentic/internal/ledger"
	"github.com/ShayCichocki/magentic/internal/planner"
	"github.com/ShayCichocki/magentic/internal/synth"
	"github.com/ShayCichocki/magentic/pkg/models"
)

// finish ends the loop with a result. A nil *finish continues the loop.
type finish struct {
	result *models.Result
	err    error
}

// runner drives one run. Everything it owns is touched only from the run
// goroutine, except the ledger, which parallel rounds read concurrently.
type runner struct {
	o       *Orchestrator
	run     *Run
	ledger  *ledger.Ledger
	stall   *StallController
	plan    *models.Plan
	state   models.State
	started time.Time
	logger  *slog.Logger
}

func newRunner(o *Orchestrator, run *Run) *runner {
	run.ledger = ledger.New()
	return &runner{
		o:       o,
		run:     run,
		ledger:  run.ledger,
		stall:   NewStallController(o.opts.policy.Limits),
		state:   models.StatePlanning,
		started: time.Now(),
		logger:  o.opts.logger.With("run_id", run.ID),
	}
}

func (r *runner) execute(ctx context.Context) (*models.Result, error) {
	ctx, span := r.o.opts.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("run.id", r.run.ID),
		attribute.String("task.id", r.run.Task.ID),
	))
	defer span.End()

	r.o.opts.recorder.RunStarted()
	r.journal(ctx, func(ctx context.Context, j Journal) error {
		return j.RunStarted(ctx, r.run.ID, r.run.Task)
	})
	r.emit(Event{Type: EventRunStarted})
	r.logger.Info("run started", "task", r.run.Task.Statement, "agents", r.o.registry.Names())

	r.append(models.Contribution{
		Producer: models.OrchestratorProducer,
		Kind:     models.KindTask,
		Payload:  r.run.Task.Statement,
	})

	if f := r.replan(ctx); f != nil {
		return r.end(span, f)
	}
	for {
		if ctx.Err() != nil {
			return r.end(span, r.fail(models.ReasonCancelled, "run cancelled"))
		}
		if err := r.o.opts.pause.WaitIfPaused(ctx); err != nil {
			return r.end(span, r.fail(models.ReasonCancelled, err.Error()))
		}
		if !r.stall.NextRound() {
			detail := fmt.Sprintf("round budget of %d spent", r.o.opts.policy.Limits.MaxRounds)
			return r.end(span, r.fail(models.ReasonRoundBudgetExhausted, detail))
		}
		if f := r.round(ctx); f != nil {
			return r.end(span, f)
		}
	}
}

func (r *runner) end(span trace.Span, f *finish) (*models.Result, error) {
	span.SetAttributes(
		attribute.String("run.state", string(f.result.State)),
		attribute.Int("run.rounds", r.stall.Counters().Round),
	)
	if f.err != nil {
		span.SetStatus(codes.Error, f.err.Error())
	}
	return f.result, f.err
}

// reject fails a run that never started.
func (r *runner) reject(err error) (*models.Result, error) {
	r.transition(models.StateFailed)
	report := &models.FailureReport{Reason: models.ReasonPlanExhausted, Detail: err.Error(), State: models.StateFailed}
	return &models.Result{
		RunID:     r.run.ID,
		State:     models.StateFailed,
		Failure:   report,
		StartedAt: r.started,
	}, fmt.Errorf("%w: %w", &RunError{Reason: report.Reason, Report: report}, err)
}

// round runs one decision cycle.
func (r *runner) round(ctx context.Context) *finish {
	round := r.stall.Counters().Round
	ctx, span := r.o.opts.tracer.Start(ctx, "orchestrator.round", trace.WithAttributes(attribute.Int("round", round)))
	defer span.End()

	d, err := r.o.manager.Advance(ctx, r.snapshot())
	if err != nil {
		return r.fail(models.ReasonCancelled, "run cancelled while evaluating the completion criterion")
	}
	span.SetAttributes(attribute.String("decision.kind", string(d.Kind)))
	r.decide(d)

	switch d.Kind {
	case models.DecisionDispatch:
		return r.dispatch(ctx, d)
	case models.DecisionSynthesize:
		return r.synthesize(ctx)
	case models.DecisionStall:
		return r.resolveStall(ctx)
	case models.DecisionReset:
		r.toEvaluating()
		r.transition(models.StateResetting)
		r.stall.OnReset()
		return r.replan(ctx)
	default:
		return r.fail(d.FailureReason, d.Reason)
	}
}

// replan asks the planner for a plan. It is used for the initial plan and
// after every reset.
func (r *runner) replan(ctx context.Context) *finish {
	if r.state == models.StateResetting {
		r.transition(models.StatePlanning)
	}

	plan, err := r.o.planner.Plan(ctx, r.snapshot())
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return r.fail(models.ReasonCancelled, "run cancelled while planning")
		case errors.Is(err, planner.ErrEmptyPlan):
			return r.fail(models.ReasonPlanExhausted, err.Error())
		default:
			return r.fail(models.ReasonBackendUnavailable, fmt.Sprintf("planner: %v", err))
		}
	}

	r.plan = plan
	r.append(models.Contribution{
		Producer: models.OrchestratorProducer,
		Kind:     models.KindPlan,
		Payload:  planner.FormatPlan(plan),
	})
	r.logger.Info("plan ready", "version", plan.Version, "goals", len(plan.Goals))
	r.transition(models.StateDispatching)
	return nil
}

// dispatch invokes the assigned agents, records their contributions in
// assignment order and updates progress accounting.
func (r *runner) dispatch(ctx context.Context, d models.Decision) *finish {
	if r.state != models.StateDispatching {
		r.transition(models.StateDispatching)
	}
	view, err := r.o.opts.summarizer.Summarize(ctx, r.ledger.View())
	if err != nil {
		r.logger.Warn("context summarizer failed, using full history", "error", err)
		view = r.ledger.View()
	}

	r.transition(models.StateAwaitingAgent)
	outcomes := r.invokeAll(ctx, d.Assignments, view)
	if ctx.Err() != nil {
		return r.fail(models.ReasonCancelled, "run cancelled while awaiting agents")
	}

	r.transition(models.StateEvaluating)
	round := r.stall.Counters().Round
	progress := false
	for i, a := range d.Assignments {
		c := r.append(outcomes[i].Contribution(a.SubGoalID, round))
		r.o.opts.recorder.AgentInvoked(a.Agent, c, outcomes[i].Duration)
		if r.evaluate(a, c) {
			progress = true
		}
	}
	r.stall.Observe(progress)
	r.logger.Debug("round evaluated", "round", round, "progress", progress, "stall", r.stall.Counters().Stall)
	return nil
}

func (r *runner) invokeAll(ctx context.Context, as []models.Assignment, view []models.Contribution) []agent.Outcome {
	outcomes := make([]agent.Outcome, len(as))
	if len(as) == 1 {
		outcomes[0] = r.invoke(ctx, as[0], view)
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(r.o.opts.policy.Dispatch.MaxParallel)
	for i, a := range as {
		g.Go(func() error {
			outcomes[i] = r.invoke(ctx, a, view)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (r *runner) invoke(ctx context.Context, a models.Assignment, view []models.Contribution) agent.Outcome {
	entry, _ := r.o.registry.Get(a.Agent)
	ctx, span := r.o.opts.tracer.Start(ctx, "agent.invoke", trace.WithAttributes(
		attribute.String("agent.name", a.Agent),
		attribute.String("sub_goal.id", a.SubGoalID),
		attribute.Bool("retry", a.Retry),
	))
	defer span.End()

	out := r.o.invoker.Invoke(ctx, entry, agent.Request{
		Task:      r.run.Task.Statement,
		SubGoalID: a.SubGoalID,
		SubTask:   a.SubTask,
		Round:     r.stall.Counters().Round,
		View:      view,
	})
	if out.Err != nil {
		span.SetAttributes(attribute.String("error.kind", string(out.Kind)))
		span.SetStatus(codes.Error, out.Err.Error())
	}
	return out
}

// evaluate applies a contribution to its sub-goal and reports whether it
// counts as progress: not error-tagged, non-empty and not a duplicate of an
// earlier payload. Partial output is progress but leaves the goal open.
func (r *runner) evaluate(a models.Assignment, c models.Contribution) bool {
	g := r.plan.Goal(a.SubGoalID)
	if g == nil {
		return false
	}
	g.Attempts++
	if !slices.Contains(g.Tried, a.Agent) {
		g.Tried = append(g.Tried, a.Agent)
	}

	switch {
	case c.Status == models.StatusError:
		g.LastNote = fmt.Sprintf("%s failed with %s", a.Agent, c.Payload)
		return false
	case strings.TrimSpace(c.Payload) == "":
		g.LastNote = fmt.Sprintf("%s returned empty output", a.Agent)
		return false
	}
	if first := r.ledger.FirstSeen(c); first != c.Seq {
		g.LastNote = fmt.Sprintf("%s repeated the output of #%d", a.Agent, first)
		return false
	}

	if c.Status == models.StatusPartial {
		g.LastNote = fmt.Sprintf("%s made partial progress in #%d, continue from it", a.Agent, c.Seq)
		return true
	}
	g.Status = models.SubGoalDone
	g.ResultSeq = c.Seq
	g.LastNote = ""
	return true
}

// resolveStall retries the stalled sub-goal on an untried agent while stall
// retries remain, resets while resets remain, and fails otherwise.
func (r *runner) resolveStall(ctx context.Context) *finish {
	r.toEvaluating()
	r.transition(models.StateStalled)

	retry, canRetry := r.o.manager.Retry(r.snapshot())
	action := r.stall.Escalate(canRetry)
	r.logger.Info("stall escalated", "action", action.String(), "counters", r.stall.Counters())

	switch action {
	case StallRetry:
		r.decide(retry)
		return r.dispatch(ctx, retry)
	case StallReset:
		r.decide(models.Decision{Kind: models.DecisionReset, Reason: "stall limit reached"})
		r.transition(models.StateResetting)
		r.stall.OnReset()
		return r.replan(ctx)
	default:
		d := models.Fail(models.ReasonPlanExhausted, "stalled with no retries or resets left")
		r.decide(d)
		return r.fail(d.FailureReason, d.Reason)
	}
}

func (r *runner) synthesize(ctx context.Context) *finish {
	r.toEvaluating()

	ctx, span := r.o.opts.tracer.Start(ctx, "orchestrator.synthesize")
	defer span.End()

	final, err := r.o.opts.synthesizer.Synthesize(ctx, r.snapshot())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return r.fail(models.ReasonCancelled, "run cancelled while synthesizing")
		}
		return r.fail(models.ReasonBackendUnavailable, fmt.Sprintf("synthesizer: %v", err))
	}

	r.transition(models.StateComplete)
	return &finish{result: &models.Result{
		RunID:     r.run.ID,
		State:     models.StateComplete,
		Final:     final,
		StartedAt: r.started,
	}}
}

func (r *runner) fail(reason models.FailureReason, detail string) *finish {
	r.transition(models.StateFailed)
	report := synth.Report(r.snapshot(), reason, detail)
	r.logger.Warn("run failed", "reason", string(reason), "detail", detail, "counters", report.Counters)
	return &finish{
		result: &models.Result{
			RunID:     r.run.ID,
			State:     models.StateFailed,
			Failure:   report,
			StartedAt: r.started,
		},
		err: &RunError{Reason: reason, Report: report},
	}
}

// finish stamps the result and publishes it.
func (r *runner) finish(result *models.Result) {
	result.FinishedAt = time.Now()
	r.o.opts.recorder.RunFinished(result)
	r.journal(context.Background(), func(ctx context.Context, j Journal) error {
		return j.RunFinished(ctx, result)
	})
	r.emit(Event{Type: EventRunFinished, Result: result})
	r.logger.Info("run finished", "state", string(result.State), "duration", result.FinishedAt.Sub(result.StartedAt))
}

// decide records a decision in the shared context and the event stream.
func (r *runner) decide(d models.Decision) {
	r.append(models.Contribution{
		Producer: models.OrchestratorProducer,
		Kind:     models.KindDecision,
		Payload:  d.String(),
	})
	r.o.opts.recorder.DecisionTaken(d.Kind)
	r.emit(Event{Type: EventDecision, Decision: &d})
	r.logger.Info("decision", "round", r.stall.Counters().Round, "decision", d.String())
}

func (r *runner) append(c models.Contribution) models.Contribution {
	if c.Round == 0 {
		c.Round = r.stall.Counters().Round
	}
	stored := r.ledger.Append(c)
	r.emit(Event{Type: EventContribution, Contribution: &stored})
	r.journal(context.Background(), func(ctx context.Context, j Journal) error {
		return j.ContributionAppended(ctx, r.run.ID, stored)
	})
	return stored
}

func (r *runner) toEvaluating() {
	if r.state == models.StateDispatching {
		r.transition(models.StateEvaluating)
	}
}

func (r *runner) transition(next models.State) {
	if !r.state.CanTransition(next) {
		r.logger.Error("invalid state transition", "from", string(r.state), "to", string(next))
	}
	from := r.state
	r.state = next
	r.emit(Event{Type: EventStateChanged, From: from})
}

func (r *runner) emit(e Event) {
	e.RunID = r.run.ID
	e.Round = r.stall.Counters().Round
	e.State = r.state
	e.Timestamp = time.Now()
	r.run.emitter.Emit(e)
}

func (r *runner) snapshot() models.Snapshot {
	return models.Snapshot{
		RunID:         r.run.ID,
		Task:          r.run.Task,
		State:         r.state,
		Plan:          r.plan.Clone(),
		Contributions: r.ledger.View(),
		Counters:      r.stall.Counters(),
	}
}

func (r *runner) journal(ctx context.Context, fn func(context.Context, Journal) error) {
	if r.o.opts.journal == nil {
		return
	}
	// Journal writes outlive run cancellation so the outcome is always recorded.
	if err := fn(context.WithoutCancel(ctx), r.o.opts.journal); err != nil {
		r.logger.Warn("journal write failed", "error", err)
	}
}
