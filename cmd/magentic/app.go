package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/magentic/internal/agent"
	"github.com/ShayCichocki/magentic/internal/api"
	"github.com/ShayCichocki/magentic/internal/backend"
	"github.com/ShayCichocki/magentic/internal/config"
	"github.com/ShayCichocki/magentic/internal/criteria"
	mlog "github.com/ShayCichocki/magentic/internal/log"
	"github.com/ShayCichocki/magentic/internal/metrics"
	"github.com/ShayCichocki/magentic/internal/orchestrator"
	"github.com/ShayCichocki/magentic/internal/planner"
	"github.com/ShayCichocki/magentic/internal/state"
	"github.com/ShayCichocki/magentic/internal/synth"
	"github.com/ShayCichocki/magentic/internal/tracing"
	"github.com/ShayCichocki/magentic/internal/version"
)

// app holds the process-wide services a command needs.
type app struct {
	logger   *slog.Logger
	recorder *metrics.Recorder
	db       *state.DB
	tracer   *tracing.Provider
	tokens   *api.TokenTracker
	closers  []io.Closer
}

// appOptions tweaks how the app is assembled.
type appOptions struct {
	// logOutput replaces stderr, e.g. while a TUI owns the terminal.
	logOutput io.Writer
}

// readConfig reads the file at path, or the user and project configuration
// when path is empty.
func readConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// loadConfig reads and validates the configuration for commands that start
// runs.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{recorder: metrics.NewRecorder()}

	logCfg := mlog.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = mlog.Format(cfg.Log.Format)
	logCfg.File = cfg.Log.File
	if opts.logOutput != nil {
		logCfg.Output = opts.logOutput
	}
	logger, logCloser, err := mlog.New(mlog.FromEnv(logCfg))
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}
	a.logger = logger
	a.closers = append(a.closers, logCloser)

	tp, err := tracing.Setup(tracing.Config{
		Exporter:       cfg.Tracing.Exporter,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceVersion: version.Get(),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("set up tracing: %w", err)
	}
	a.tracer = tp

	if !cfg.Storage.Disabled {
		db, err := openStore(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = db
	}
	return a, nil
}

func openStore(cfg *config.Config) (*state.DB, error) {
	path := cfg.Storage.Path
	if path == "" {
		path = state.GlobalDBPath()
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run journal: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate run journal: %w", err)
	}
	return db, nil
}

// Close flushes spans and releases the journal and log file.
func (a *app) Close() error {
	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs = append(errs, a.tracer.Shutdown(ctx))
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// newBackend builds the retrying completion backend, or nil when nothing in
// cfg calls it.
func (a *app) newBackend(cfg *config.Config) (backend.Backend, error) {
	if !cfg.NeedsBackend() {
		return nil, nil
	}
	client, err := api.NewClient(api.ClientConfig{
		Model:         anthropic.Model(cfg.Backend.Model),
		APIKey:        cfg.Backend.APIKey,
		BaseURL:       cfg.Backend.BaseURL,
		MaxTokens:     cfg.Backend.MaxTokens,
		UseAWSBedrock: cfg.Backend.Provider == "bedrock",
		AWSRegion:     cfg.Backend.AWSRegion,
		AWSProfile:    cfg.Backend.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("create completion backend: %w", err)
	}
	a.tokens = client.Tracker()
	return backend.NewRetrying(client, cfg.RetryConfig(), a.logger), nil
}

// buildOrchestrator assembles an orchestrator from cfg. The closer releases
// agent sessions.
func (a *app) buildOrchestrator(ctx context.Context, cfg *config.Config, extra ...orchestrator.Option) (*orchestrator.Orchestrator, io.Closer, error) {
	b, err := a.newBackend(cfg)
	if err != nil {
		return nil, nil, err
	}

	reg, agents, err := agent.Build(ctx, cfg.AgentSpecs(), agent.Deps{
		Backend:    b,
		HTTPClient: &http.Client{},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build agents: %w", err)
	}
	fail := func(err error) (*orchestrator.Orchestrator, io.Closer, error) {
		agents.Close()
		return nil, nil, err
	}

	var p planner.Planner = planner.Split{MaxGoals: cfg.Planner.MaxGoals}
	if cfg.Planner.Kind == "backend" {
		p = planner.NewBackend(b, reg.Descriptors(), cfg.Planner.MaxGoals, a.logger)
	}
	crit, err := criteria.New(cfg.Criterion.Kind, cfg.Criterion.Expression, b)
	if err != nil {
		return fail(err)
	}
	syn, err := synth.New(cfg.Synthesizer.Kind, b, cfg.Synthesizer.MaxTokens)
	if err != nil {
		return fail(err)
	}

	opts := []orchestrator.Option{
		orchestrator.WithPolicy(cfg.Policy()),
		orchestrator.WithCriterion(crit),
		orchestrator.WithSynthesizer(syn),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithRecorder(a.recorder),
	}
	if a.db != nil {
		opts = append(opts, orchestrator.WithJournal(state.NewJournal(a.db)))
	}
	opts = append(opts, extra...)

	o, err := orchestrator.New(orchestrator.RequiredConfig{Registry: reg, Planner: p}, opts...)
	if err != nil {
		return fail(err)
	}
	return o, agents, nil
}
