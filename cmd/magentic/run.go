package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/magentic/internal/ledger"
	"github.com/ShayCichocki/magentic/internal/orchestrator"
	"github.com/ShayCichocki/magentic/internal/signals"
	"github.com/ShayCichocki/magentic/internal/tui"
	"github.com/ShayCichocki/magentic/pkg/models"
)

var (
	runCriterion string
	runMaxRounds int
	runTUI       bool
	runJSON      bool
	runQuiet     bool
)

// errRunFailed is returned when a run ends in FAILED.
var errRunFailed = errors.New("run failed")

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a task with the configured agents",
	Long: `Run a task to completion with the configured agents.

Progress is printed as the manager takes decisions and agents contribute.
The run ends with the synthesized answer or a failure report; failed runs
exit non-zero.

While a run is active it can be controlled from another terminal with
'magentic signal pause|resume|stop'.`,
	Args: cobra.ExactArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runCriterion, "criterion", "", "Completion criterion handed to the criterion and agents")
	runCmd.Flags().IntVar(&runMaxRounds, "max-rounds", 0, "Override orchestrator.max_round_count")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Follow the run in a terminal UI")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print only the result as JSON")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Print only the answer")
}

// runControl stops the run on a stop signal in addition to unblocking a
// paused loop.
type runControl struct {
	*orchestrator.PauseController
	cancel context.CancelFunc
}

func (c runControl) Stop() {
	c.PauseController.Stop()
	c.cancel()
}

func runTask(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if runMaxRounds > 0 {
		cfg.Orchestrator.MaxRoundCount = runMaxRounds
	}

	opts := appOptions{}
	if runTUI {
		opts.logOutput = io.Discard
	}
	a, err := newApp(cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pause := orchestrator.NewPauseController(a.logger)
	orch, agents, err := a.buildOrchestrator(ctx, cfg, orchestrator.WithPauseController(pause))
	if err != nil {
		return err
	}
	defer agents.Close()

	watchSignals(ctx, runControl{PauseController: pause, cancel: cancel}, a.logger)

	run := orch.Start(ctx, models.Task{Statement: args[0], Criterion: runCriterion})
	a.logger.Info("run started", "run_id", run.ID, "agents", orch.Registry().Names())

	var result *models.Result
	switch {
	case runTUI:
		result, err = followTUI(run, args[0], cfg.Orchestrator.MaxRoundCount, pause)
	default:
		result, err = followText(cmd.OutOrStdout(), run)
	}
	if result == nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else {
		printResult(out, result)
		if a.tokens != nil && a.tokens.Calls() > 0 && !runQuiet {
			in, outTok := a.tokens.Total()
			color.New(color.Faint).Fprintf(out, "backend: %d calls, %d input / %d output tokens\n", a.tokens.Calls(), in, outTok)
		}
	}
	if !result.Succeeded() {
		return errRunFailed
	}
	return nil
}

// watchSignals applies signal files from the working directory to h until
// ctx ends. Failure to watch only disables the feature.
func watchSignals(ctx context.Context, h signals.Handler, logger *slog.Logger) {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	w, err := signals.NewWatcher(cwd, h, logger)
	if err != nil {
		logger.Warn("signal files disabled", "error", err)
		return
	}
	go w.Run(ctx)
}

// followText prints events as they arrive and returns the result.
func followText(out io.Writer, run *orchestrator.Run) (*models.Result, error) {
	for ev := range run.Events() {
		if runJSON || runQuiet {
			continue
		}
		printEvent(out, ev)
	}
	if n := run.DroppedEvents(); n > 0 && !runJSON && !runQuiet {
		color.New(color.FgYellow).Fprintf(out, "(%d progress events were dropped)\n", n)
	}
	result, err := run.Wait()
	if result != nil {
		return result, nil
	}
	return nil, err
}

func followTUI(run *orchestrator.Run, task string, maxRounds int, pause *orchestrator.PauseController) (*models.Result, error) {
	program, app := tui.NewRunProgram(task, maxRounds, run.Events(), tui.Controls{
		Cancel: run.Cancel,
		Pause:  pause.Pause,
		Resume: pause.Resume,
	})
	if _, err := program.Run(); err != nil {
		run.Cancel()
		run.Wait()
		return nil, fmt.Errorf("tui: %w", err)
	}

	// Quitting early cancels the run; wait for it to record the outcome.
	run.Cancel()
	result, _ := run.Wait()
	if result == nil {
		result = app.Result()
	}
	return result, nil
}

func printEvent(out io.Writer, ev orchestrator.Event) {
	dim := color.New(color.Faint)
	switch ev.Type {
	case orchestrator.EventDecision:
		if ev.Decision == nil {
			return
		}
		c := color.New(color.FgCyan)
		if ev.Decision.Kind == models.DecisionFail {
			c = color.New(color.FgRed)
		}
		fmt.Fprintf(out, "%s %s\n", dim.Sprintf("[round %d]", ev.Round), c.Sprint(ev.Decision.String()))
	case orchestrator.EventContribution:
		c := ev.Contribution
		if c == nil || !c.IsAgent() {
			return
		}
		symbol, attr := "✓", color.FgGreen
		switch c.Status {
		case models.StatusError:
			symbol, attr = "✗", color.FgRed
		case models.StatusPartial:
			symbol, attr = "~", color.FgYellow
		}
		fmt.Fprintf(out, "  %s %s: %s\n", color.New(attr).Sprint(symbol), c.Producer, ledger.FirstLine(c.Payload, 100))
	case orchestrator.EventStateChanged:
		if ev.State == models.StateStalled || ev.State == models.StateResetting {
			color.New(color.FgYellow).Fprintf(out, "  %s\n", ev.State)
		}
	}
}

func printResult(out io.Writer, result *models.Result) {
	if result.Succeeded() {
		if !runQuiet {
			fmt.Fprintln(out)
			printStatus(out, "✓", fmt.Sprintf("Run complete in %d rounds", result.Final.Counters.Round), color.FgGreen)
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, result.Final.Answer)
		return
	}

	f := result.Failure
	if f == nil {
		printStatus(out, "✗", "Run failed", color.FgRed)
		return
	}
	msg := fmt.Sprintf("Run failed: %s", f.Reason)
	if f.Detail != "" {
		msg += " (" + f.Detail + ")"
	}
	printStatus(out, "✗", msg, color.FgRed)
	if f.LastError != nil {
		fmt.Fprintf(out, "  last error from %s: %s\n", f.LastError.Producer, ledger.FirstLine(f.LastError.Payload, 200))
	}
	fmt.Fprintf(out, "  rounds: %d, resets: %d\n", f.Counters.Round, f.Counters.Reset)
}

func printStatus(out io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(out, "%s %s\n", c.Sprint(symbol), message)
}
