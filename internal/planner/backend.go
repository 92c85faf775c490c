package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ShayCichocki/magentic/internal/backend"
	"github.com/ShayCichocki/magentic/internal/ledger"
	"github.com/ShayCichocki/magentic/pkg/models"
)

const planSystem = `You are the lead orchestrator of a team of specialist agents.
Break the task into a short numbered list of concrete sub-goals, one per line:
  N. [AgentName] instruction (after M)
The [AgentName] hint and (after M) dependency are optional. Output only the list.`

// Backend asks the completion backend for a plan.
type Backend struct {
	backend  backend.Backend
	agents   []models.AgentDescriptor
	maxGoals int
	logger   *slog.Logger
}

// NewBackend creates a backend planner that knows the registered agents.
func NewBackend(b backend.Backend, agents []models.AgentDescriptor, maxGoals int, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{backend: b, agents: agents, maxGoals: maxGoals, logger: logger}
}

// Plan implements Planner.
func (p *Backend) Plan(ctx context.Context, snap models.Snapshot) (*models.Plan, error) {
	out, err := p.backend.Complete(ctx, backend.Prompt{
		System:    planSystem,
		User:      p.prompt(snap),
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("plan completion: %w", err)
	}

	version := NextVersion(snap.Plan)
	plan := ParsePlan(out, version, p.agents)
	if len(plan.Goals) == 0 {
		p.logger.Warn("planner reply had no numbered steps", "reply", out)
		return nil, ErrEmptyPlan
	}
	if p.maxGoals > 0 && len(plan.Goals) > p.maxGoals {
		plan.Goals = plan.Goals[:p.maxGoals]
	}
	p.logger.Debug("plan created", "version", version, "goals", len(plan.Goals))
	return plan, nil
}

func (p *Backend) prompt(snap models.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\n", snap.Task.Statement)
	if snap.Task.Criterion != "" {
		fmt.Fprintf(&b, "Done when:\n%s\n\n", snap.Task.Criterion)
	}
	b.WriteString("Agents:\n")
	for _, a := range p.agents {
		fmt.Fprintf(&b, "- %s: %s\n", a.Name, a.Capability)
	}
	if snap.Plan != nil {
		fmt.Fprintf(&b, "\nThe previous plan stopped making progress and was discarded:\n%s\n", FormatPlan(snap.Plan))
		if outputs := snap.AgentOutputs(); len(outputs) > 0 {
			fmt.Fprintf(&b, "\nWhat the agents produced so far:\n%s\n", ledger.Render(outputs))
		}
		if last := snap.LastError(); last != nil {
			fmt.Fprintf(&b, "\nMost recent failure: %s\n", last.Payload)
		}
		b.WriteString("\nPropose a different plan that builds on the useful results.\n")
	}
	return b.String()
}
