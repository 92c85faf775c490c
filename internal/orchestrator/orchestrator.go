package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/ShayCichocki/magentic/internal/agent"
	"github.com/ShayCichocki/magentic/internal/criteria"
	"github.com/ShayCichocki/magentic/internal/ledger"
	"github.com/ShayCichocki/magentic/internal/orchestrator/policy"
	"github.com/ShayCichocki/magentic/internal/planner"
	"github.com/ShayCichocki/magentic/internal/synth"
	"github.com/ShayCichocki/magentic/pkg/models"
)

// tracerName is the instrumentation scope of orchestrator spans.
const tracerName = "github.com/ShayCichocki/magentic/internal/orchestrator"

// ErrEmptyTask is returned for tasks without a statement.
var ErrEmptyTask = errors.New("task statement is empty")

// Orchestrator runs tasks against a fixed agent registry. It is safe to
// start several runs concurrently; each run owns its context, plan and
// counters.
type Orchestrator struct {
	registry *agent.Registry
	planner  planner.Planner
	opts     orchestratorOptions
	manager  *Manager
	invoker  *agent.Invoker
}

// New creates an Orchestrator.
func New(req RequiredConfig, opts ...Option) (*Orchestrator, error) {
	if req.Registry == nil || req.Registry.Len() == 0 {
		return nil, errors.New("orchestrator needs at least one agent")
	}
	if req.Planner == nil {
		return nil, errors.New("orchestrator needs a planner")
	}

	o := orchestratorOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.policy == nil {
		o.policy = policy.Default()
	}
	if err := o.policy.Validate(); err != nil {
		return nil, err
	}
	if o.criterion == nil {
		o.criterion = criteria.Plan{}
	}
	if o.synthesizer == nil {
		o.synthesizer = synth.Digest{}
	}
	if o.scorer == nil {
		o.scorer = KeywordScorer
	}
	if o.summarizer == nil {
		if o.policy.Context.Window > 0 {
			o.summarizer = ledger.Window{Keep: o.policy.Context.Window}
		} else {
			o.summarizer = ledger.Identity{}
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.pause == nil {
		o.pause = NewPauseController(o.logger)
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}

	return &Orchestrator{
		registry: req.Registry,
		planner:  req.Planner,
		opts:     o,
		manager:  NewManager(req.Registry.Descriptors(), o.scorer, o.criterion, o.policy.Limits, o.policy.Dispatch.MaxParallel),
		invoker:  agent.NewInvoker(o.policy.Dispatch.AgentTimeout, o.logger),
	}, nil
}

// Registry returns the agents available to runs.
func (o *Orchestrator) Registry() *agent.Registry {
	return o.registry
}

// Policy returns a copy of the policy in effect.
func (o *Orchestrator) Policy() policy.Config {
	return *o.opts.policy
}

// Pause returns the pause controller shared by all runs.
func (o *Orchestrator) Pause() *PauseController {
	return o.opts.pause
}

// Start begins a run in the background. The run ends when it completes,
// fails, or ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context, task models.Task) *Run {
	if task.ID == "" {
		task.ID = o.opts.newID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:      o.opts.newID(),
		Task:    task,
		emitter: NewEventEmitter(o.opts.policy.Events.BufferSize, o.opts.logger, o.opts.recorder.EventDropped),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	r := newRunner(o, run)
	go func() {
		defer cancel()
		defer close(run.done)

		var (
			result *models.Result
			err    error
		)
		if strings.TrimSpace(task.Statement) == "" {
			result, err = r.reject(ErrEmptyTask)
		} else {
			result, err = r.execute(runCtx)
		}
		r.finish(result)
		run.result, run.err = result, err
		run.emitter.Close()
	}()
	return run
}

// Run executes a task and blocks until it finishes. Failed runs return the
// result with its failure report together with a *RunError.
func (o *Orchestrator) Run(ctx context.Context, task models.Task) (*models.Result, error) {
	return o.Start(ctx, task).Wait()
}

// Run is a single orchestration run.
type Run struct {
	ID   string
	Task models.Task

	emitter *EventEmitter
	ledger  *ledger.Ledger
	cancel  context.CancelFunc
	done    chan struct{}

	result *models.Result
	err    error
}

// Events returns the run's event stream. The channel is bounded; a slow
// reader loses the oldest events rather than slowing the run. It is closed
// after the run_finished event.
func (r *Run) Events() <-chan Event {
	return r.emitter.Events()
}

// DroppedEvents returns how many events were discarded because the
// subscriber lagged.
func (r *Run) DroppedEvents() uint64 {
	return r.emitter.DroppedCount()
}

// Contributions returns the shared context recorded so far, in sequence order.
func (r *Run) Contributions() []models.Contribution {
	return r.ledger.View()
}

// Cancel requests cancellation. The run ends in FAILED with reason cancelled.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes and returns its result.
func (r *Run) Wait() (*models.Result, error) {
	<-r.done
	return r.result, r.err
}
