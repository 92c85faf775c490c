package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "magentic",
	Short: "Multi-agent task orchestrator",
	Long: `Magentic drives a team of specialized agents toward a task.

A manager plans sub-goals, dispatches each to the agent whose capability fits
best, records every contribution in a shared context, and detects stalls,
replanning when progress stops. The run ends with a synthesized answer or a
failure report.

Agents, limits and the completion backend are configured in
~/.config/magentic/config.yaml with project overrides in .magentic.yaml.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user and project config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(versionCmd)
}
