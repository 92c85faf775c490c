package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/magentic/internal/agent"
	"github.com/ShayCichocki/magentic/internal/criteria"
	"github.com/ShayCichocki/magentic/internal/ledger"
	"github.com/ShayCichocki/magentic/internal/orchestrator/policy"
	"github.com/ShayCichocki/magentic/internal/planner"
	"github.com/ShayCichocki/magentic/internal/synth"
	"github.com/ShayCichocki/magentic/pkg/models"
)

// RequiredConfig contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Registry is the fixed set of agents available to runs.
	Registry *agent.Registry
	// Planner builds the initial plan and replans after resets.
	Planner planner.Planner
}

// Journal persists runs as they progress. Journal errors are logged and never
// fail a run.
type Journal interface {
	RunStarted(ctx context.Context, runID string, task models.Task) error
	ContributionAppended(ctx context.Context, runID string, c models.Contribution) error
	RunFinished(ctx context.Context, result *models.Result) error
}

// Recorder receives run measurements.
type Recorder interface {
	RunStarted()
	RunFinished(result *models.Result)
	DecisionTaken(kind models.DecisionKind)
	AgentInvoked(agent string, c models.Contribution, d time.Duration)
	EventDropped()
}

type nopRecorder struct{}

func (nopRecorder) RunStarted()                                             {}
func (nopRecorder) RunFinished(*models.Result)                              {}
func (nopRecorder) DecisionTaken(models.DecisionKind)                       {}
func (nopRecorder) AgentInvoked(string, models.Contribution, time.Duration) {}
func (nopRecorder) EventDropped()                                           {}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	policy      *policy.Config
	criterion   criteria.Criterion
	synthesizer synth.Synthesizer
	scorer      Scorer
	summarizer  ledger.Summarizer
	logger      *slog.Logger
	journal     Journal
	recorder    Recorder
	tracer      trace.Tracer
	pause       *PauseController
	newID       func() string
}

// WithPolicy sets the policy configuration.
func WithPolicy(p *policy.Config) Option {
	return func(o *orchestratorOptions) { o.policy = p }
}

// WithCriterion sets the completion criterion. Defaults to criteria.Plan.
func WithCriterion(c criteria.Criterion) Option {
	return func(o *orchestratorOptions) { o.criterion = c }
}

// WithSynthesizer sets the result synthesizer. Defaults to synth.Digest.
func WithSynthesizer(s synth.Synthesizer) Option {
	return func(o *orchestratorOptions) { o.synthesizer = s }
}

// WithScorer sets the agent selection scorer. Defaults to KeywordScorer.
func WithScorer(s Scorer) Option {
	return func(o *orchestratorOptions) { o.scorer = s }
}

// WithSummarizer sets how agent context views are bounded. When unset the
// policy's context window decides.
func WithSummarizer(s ledger.Summarizer) Option {
	return func(o *orchestratorOptions) { o.summarizer = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithJournal persists runs.
func WithJournal(j Journal) Option {
	return func(o *orchestratorOptions) { o.journal = j }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *orchestratorOptions) { o.recorder = r }
}

// WithTracer sets the tracer used for run, round and invocation spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *orchestratorOptions) { o.tracer = t }
}

// WithPauseController shares a pause controller with external controls
// such as signal files.
func WithPauseController(p *PauseController) Option {
	return func(o *orchestratorOptions) { o.pause = p }
}

// WithIDGenerator overrides run and task ID generation (mainly for testing).
func WithIDGenerator(f func() string) Option {
	return func(o *orchestratorOptions) { o.newID = f }
}
