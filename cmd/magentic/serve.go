package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/magentic/internal/config"
	"github.com/ShayCichocki/magentic/internal/orchestrator"
	"github.com/ShayCichocki/magentic/internal/server"
	"github.com/ShayCichocki/magentic/internal/state"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API over HTTP",
	Long: `Start an HTTP service that accepts tasks and runs them in the background.

Endpoints:
  POST /v1/runs                 submit {"statement": "...", "criterion": "..."}
  GET  /v1/runs                 list runs (?state=COMPLETE&limit=20)
  GET  /v1/runs/{id}            run details with its shared context
  GET  /v1/runs/{id}/events     server-sent event stream of an active run
  POST /v1/runs/{id}/cancel     cancel an active run
  GET  /metrics                 Prometheus metrics
  GET  /_healthz                liveness

Runs left unfinished by a previous process are marked cancelled on start.
With --watch, edits to the config file apply to runs submitted afterwards.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload the config file passed with --config on change")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	a, err := newApp(cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.db != nil {
		n, err := state.NewRecoveryManager(a.db, a.logger).MarkInterrupted(time.Now())
		if err != nil {
			return fmt.Errorf("recover interrupted runs: %w", err)
		}
		if n > 0 {
			a.logger.Info("marked interrupted runs", "count", n)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pause := orchestrator.NewPauseController(a.logger)
	orch, agents, err := a.buildOrchestrator(ctx, cfg, orchestrator.WithPauseController(pause))
	if err != nil {
		return err
	}
	live := &liveAgents{current: agents}
	defer live.Close()

	srv := server.New(orch, server.Config{
		MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
		Store:             storeOf(a.db),
		Metrics:           a.recorder.Handler(),
		Logger:            a.logger,
	})

	if serveWatch {
		if configPath == "" {
			return fmt.Errorf("--watch needs --config")
		}
		err := config.Watch(configPath, func(next *config.Config) {
			o, closer, err := a.buildOrchestrator(ctx, next, orchestrator.WithPauseController(pause))
			if err != nil {
				a.logger.Warn("config reload rejected", "error", err)
				return
			}
			srv.SetStarter(o)
			live.replace(closer)
			a.logger.Info("config reloaded", "path", configPath)
		}, func(err error) {
			a.logger.Warn("config reload failed", "error", err)
		})
		if err != nil {
			return err
		}
	}

	watchSignals(ctx, runControl{PauseController: pause, cancel: cancel}, a.logger)

	fmt.Fprintf(cmd.OutOrStdout(), "magentic listening on http://%s\n", addr)
	if err := srv.ListenAndServe(ctx, addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// storeOf avoids handing the server a typed nil.
func storeOf(db *state.DB) state.StateStore {
	if db == nil {
		return nil
	}
	return db
}

// liveAgents tracks the agent sessions of every orchestrator built during
// the process. Sessions of replaced orchestrators stay open because runs
// already started may still use them.
type liveAgents struct {
	mu      sync.Mutex
	current io.Closer
	retired []io.Closer
}

func (l *liveAgents) replace(c io.Closer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retired = append(l.retired, l.current)
	l.current = c
}

func (l *liveAgents) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.retired {
		c.Close()
	}
	return l.current.Close()
}
