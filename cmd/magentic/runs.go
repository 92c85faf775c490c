package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/magentic/internal/ledger"
	"github.com/ShayCichocki/magentic/internal/state"
	"github.com/ShayCichocki/magentic/pkg/models"
)

var (
	runsState     string
	runsLimit     int
	runsFormat    string
	runsOlderThan time.Duration
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run journal",
	Long: `List and inspect runs recorded in the run journal.

The journal lives at storage.path, or the global data directory when unset.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *state.DB) error {
			filter := state.ListFilter{State: models.State(strings.ToUpper(runsState)), Limit: runsLimit}
			if filter.State != "" && !filter.State.Valid() {
				return fmt.Errorf("unknown state %q", runsState)
			}
			runs, err := db.ListRuns(filter)
			if err != nil {
				return err
			}
			displayRuns(cmd.OutOrStdout(), runs, time.Now())
			return nil
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its decisions and contributions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *state.DB) error {
			run, err := db.GetRun(args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			contributions, err := db.ListContributions(run.ID)
			if err != nil {
				return err
			}
			return displayRun(cmd.OutOrStdout(), runsFormat, run, contributions)
		})
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *state.DB) error {
			if err := db.DeleteRun(args[0]); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), "✓", "Deleted run "+args[0], color.FgGreen)
			return nil
		})
	},
}

var runsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished runs older than a duration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *state.DB) error {
			n, err := db.PurgeOldRuns(runsOlderThan)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Purged %d runs", n), color.FgGreen)
			return nil
		})
	},
}

func init() {
	runsListCmd.Flags().StringVar(&runsState, "state", "", "Only runs in this state (COMPLETE, FAILED, ...)")
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs")
	runsShowCmd.Flags().StringVarP(&runsFormat, "output", "o", "text", "Output format: text, json or yaml")
	runsPurgeCmd.Flags().DurationVar(&runsOlderThan, "older-than", 30*24*time.Hour, "Age of runs to delete")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd, runsPurgeCmd)
}

// withStore opens the configured journal for fn.
func withStore(fn func(db *state.DB) error) error {
	cfg, err := readConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Storage.Disabled {
		return fmt.Errorf("the run journal is disabled (storage.disabled)")
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func displayRuns(out io.Writer, runs []state.Run, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded. Run 'magentic run <task>' to start.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tROUNDS\tSTARTED\tTASK")
	for _, r := range runs {
		st := string(r.State)
		if r.Reason != "" {
			st += " (" + string(r.Reason) + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s ago\t%s\n",
			r.ID, st, r.Rounds, formatDuration(now.Sub(r.StartedAt)), ledger.FirstLine(r.Statement, 60))
	}
	tw.Flush()
}

// runDocument is the structured form of runs show.
type runDocument struct {
	Run           *state.Run            `json:"run" yaml:"run"`
	Contributions []models.Contribution `json:"contributions" yaml:"contributions"`
}

func displayRun(out io.Writer, format string, run *state.Run, contributions []models.Contribution) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runDocument{Run: run, Contributions: contributions})
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(runDocument{Run: run, Contributions: contributions}); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	fmt.Fprintf(out, "Run: %s\n", run.ID)
	fmt.Fprintf(out, "  Task: %s\n", run.Statement)
	if run.Criterion != "" {
		fmt.Fprintf(out, "  Criterion: %s\n", run.Criterion)
	}
	fmt.Fprintf(out, "  State: %s\n", run.State)
	if run.Reason != "" {
		fmt.Fprintf(out, "  Reason: %s\n", run.Reason)
	}
	if run.Detail != "" {
		fmt.Fprintf(out, "  Detail: %s\n", run.Detail)
	}
	fmt.Fprintf(out, "  Rounds: %d, resets: %d\n", run.Rounds, run.Resets)
	fmt.Fprintf(out, "  Started: %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "  Duration: %s\n", formatDuration(run.FinishedAt.Sub(run.StartedAt)))
	}

	if len(contributions) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Context:")
		for _, c := range contributions {
			tag := ""
			if c.Status != models.StatusSuccess {
				tag = " [" + string(c.Status) + "]"
			}
			fmt.Fprintf(out, "  %3d r%-2d %-12s %-8s%s %s\n",
				c.Seq, c.Round, c.Producer, c.Kind, tag, ledger.FirstLine(c.Payload, 80))
		}
	}

	if run.Answer != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Answer:")
		fmt.Fprintln(out, run.Answer)
	}
	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
