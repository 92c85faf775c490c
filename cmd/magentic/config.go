package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/magentic/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: `View the effective magentic configuration.

Configuration is read from ~/.config/magentic/config.yaml, merged with a
.magentic.yaml found in the current directory or a parent, and finally
overridden by MAGENTIC_* environment variables (MAGENTIC_ORCHESTRATOR_MAX_ROUND_COUNT,
...). ANTHROPIC_API_KEY sets backend.api_key.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig(configPath)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		displayAllConfig(out, cfg)
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(out)
			printStatus(out, "!", "Runs will not start: "+err.Error(), color.FgYellow)
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file locations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		printPath(out, "user", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			fmt.Fprintf(out, "project: (none, create %s)\n", config.ProjectConfigName)
			return
		}
		printPath(out, "project", project)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configPathCmd)
}

func printPath(out io.Writer, label, path string) {
	status := color.New(color.Faint).Sprint("(missing)")
	if _, err := os.Stat(path); err == nil {
		status = color.New(color.FgGreen).Sprint("(found)")
	}
	fmt.Fprintf(out, "%s: %s %s\n", label, path, status)
}

// displayAllConfig prints all configuration values.
func displayAllConfig(out io.Writer, cfg *config.Config) {
	o := cfg.Orchestrator
	fmt.Fprintf(out, "orchestrator.max_round_count: %d\n", o.MaxRoundCount)
	fmt.Fprintf(out, "orchestrator.max_stall_count: %d\n", o.MaxStallCount)
	fmt.Fprintf(out, "orchestrator.max_reset_count: %d\n", o.MaxResetCount)
	fmt.Fprintf(out, "orchestrator.max_stall_retries: %d\n", o.MaxStallRetries)
	fmt.Fprintf(out, "orchestrator.agent_timeout: %s\n", o.AgentTimeout)
	fmt.Fprintf(out, "orchestrator.max_parallel: %d\n", o.MaxParallel)
	fmt.Fprintf(out, "orchestrator.event_buffer: %d\n", o.EventBuffer)
	fmt.Fprintf(out, "orchestrator.context_window: %d\n", o.ContextWindow)

	fmt.Fprintf(out, "planner.kind: %s\n", cfg.Planner.Kind)
	fmt.Fprintf(out, "planner.max_goals: %d\n", cfg.Planner.MaxGoals)
	fmt.Fprintf(out, "criterion.kind: %s\n", cfg.Criterion.Kind)
	if cfg.Criterion.Expression != "" {
		fmt.Fprintf(out, "criterion.expression: %s\n", cfg.Criterion.Expression)
	}
	fmt.Fprintf(out, "synthesizer.kind: %s\n", cfg.Synthesizer.Kind)

	fmt.Fprintf(out, "backend.provider: %s\n", cfg.Backend.Provider)
	fmt.Fprintf(out, "backend.api_key: %s (%s)\n", config.MaskAPIKey(cfg.Backend.APIKey), config.GetAPIKeySource(cfg))
	if cfg.Backend.Model != "" {
		fmt.Fprintf(out, "backend.model: %s\n", cfg.Backend.Model)
	}
	fmt.Fprintf(out, "backend.retry.max_retries: %d\n", cfg.Backend.Retry.MaxRetries)

	storage := cfg.Storage.Path
	switch {
	case cfg.Storage.Disabled:
		storage = "(disabled)"
	case storage == "":
		storage = "(global)"
	}
	fmt.Fprintf(out, "storage.path: %s\n", storage)
	fmt.Fprintf(out, "log.level: %s\n", cfg.Log.Level)
	fmt.Fprintf(out, "log.format: %s\n", cfg.Log.Format)
	fmt.Fprintf(out, "tracing.exporter: %s\n", cfg.Tracing.Exporter)
	fmt.Fprintf(out, "server.addr: %s\n", cfg.Server.Addr)
	fmt.Fprintf(out, "server.max_concurrent_runs: %d\n", cfg.Server.MaxConcurrentRuns)
	fmt.Fprintf(out, "agents: %d configured\n", len(cfg.Agents))
}
