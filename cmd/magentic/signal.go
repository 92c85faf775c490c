package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/magentic/internal/signals"
)

var signalCmd = &cobra.Command{
	Use:   "signal <pause|resume|stop>",
	Short: "Control runs started from this directory",
	Long: `Pause, resume or stop the runs of a magentic process started in the
current directory. Signals are files under .magentic/signals that the running
process watches.

A paused run finishes its current round and waits before the next one.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"pause", "resume", "stop"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}

		switch args[0] {
		case "pause":
			err = signals.Send(cwd, signals.Pause)
		case "resume":
			err = signals.Clear(cwd, signals.Pause)
		case "stop":
			err = signals.Send(cwd, signals.Stop)
		default:
			return fmt.Errorf("unknown signal %q", args[0])
		}
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), "✓", "Sent "+args[0], color.FgGreen)
		return nil
	},
}
