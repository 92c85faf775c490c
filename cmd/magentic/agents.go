package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/magentic/internal/agent"
	"github.com/ShayCichocki/magentic/internal/ledger"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the configured agents",
	Long: `List the specialized agents the manager can dispatch to.

Each agent has a unique name, a capability description used for selection,
and a kind: llm, mcp, http or scripted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		displayAgents(cmd.OutOrStdout(), cfg.AgentSpecs())
		return nil
	},
}

func displayAgents(out io.Writer, specs []agent.Spec) {
	if len(specs) == 0 {
		fmt.Fprintln(out, "No agents configured. Add an agents section to your config.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tTARGET\tCAPABILITY")
	for _, s := range specs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Kind, target(s), ledger.FirstLine(s.Capability, 60))
	}
	tw.Flush()
}

// target names what an agent talks to.
func target(s agent.Spec) string {
	switch {
	case s.URL != "":
		return s.URL
	case s.Command != "":
		return s.Command + " :: " + s.Tool
	case s.Script != "":
		return s.Script
	default:
		return "backend"
	}
}
