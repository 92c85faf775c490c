// Package synth produces the final answer of a completed run, or the failure
// report of a run that did not converge.
package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/magentic/internal/backend"
	"github.com/ShayCichocki/magentic/internal/ledger"
	"github.com/ShayCichocki/magentic/pkg/models"
)

// Kinds accepted by New.
const (
	KindDigest  = "digest"
	KindBackend = "backend"
)

// Synthesizer turns the accumulated context into a final result.
type Synthesizer interface {
	Synthesize(ctx context.Context, snap models.Snapshot) (*models.FinalResult, error)
}

// New builds a synthesizer by kind.
func New(kind string, b backend.Backend, maxTokens int64) (Synthesizer, error) {
	switch kind {
	case "", KindDigest:
		return Digest{}, nil
	case KindBackend:
		if b == nil {
			return nil, fmt.Errorf("backend synthesizer needs a completion backend")
		}
		return NewBackend(b, maxTokens), nil
	default:
		return nil, fmt.Errorf("unknown synthesizer kind %q", kind)
	}
}

// Digest concatenates agent output per done sub-goal, in plan order. Partial
// output recorded for a goal precedes the contribution that finished it.
// Without any done goal it falls back to every non-error agent output.
type Digest struct{}

// Synthesize implements Synthesizer.
func (Digest) Synthesize(_ context.Context, snap models.Snapshot) (*models.FinalResult, error) {
	var (
		b       strings.Builder
		sources []int
	)
	if snap.Plan != nil {
		for _, g := range snap.Plan.Goals {
			if g.Status != models.SubGoalDone {
				continue
			}
			var parts []string
			for _, c := range snap.Contributions {
				if !c.IsAgent() || c.SubGoalID != g.ID || c.Status == models.StatusError {
					continue
				}
				if c.Seq == g.ResultSeq || (c.Status == models.StatusPartial && c.Seq < g.ResultSeq) {
					parts = append(parts, strings.TrimSpace(c.Payload))
					sources = append(sources, c.Seq)
				}
			}
			if len(parts) == 0 {
				continue
			}
			fmt.Fprintf(&b, "## %s\n%s\n\n", g.Description, strings.Join(parts, "\n"))
		}
	}
	if len(sources) == 0 {
		for _, c := range snap.AgentOutputs() {
			fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(c.Payload))
			sources = append(sources, c.Seq)
		}
	}

	return &models.FinalResult{
		Answer:   strings.TrimSpace(b.String()),
		Plan:     snap.Plan.Clone(),
		Counters: snap.Counters,
		Sources:  sources,
	}, nil
}

const synthSystem = `You write the final answer for a team of agents.
Use only the information in the agent contributions. Answer the task directly.`

// Backend asks the completion backend to write the answer from the full context.
type Backend struct {
	backend   backend.Backend
	maxTokens int64
}

// NewBackend creates a backend synthesizer.
func NewBackend(b backend.Backend, maxTokens int64) *Backend {
	return &Backend{backend: b, maxTokens: maxTokens}
}

// Synthesize implements Synthesizer.
func (s *Backend) Synthesize(ctx context.Context, snap models.Snapshot) (*models.FinalResult, error) {
	outputs := snap.AgentOutputs()

	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\n", snap.Task.Statement)
	if snap.Task.Criterion != "" {
		fmt.Fprintf(&b, "Done when:\n%s\n\n", snap.Task.Criterion)
	}
	fmt.Fprintf(&b, "Agent contributions:\n%s\n", ledger.Render(outputs))

	answer, err := s.backend.Complete(ctx, backend.Prompt{System: synthSystem, User: b.String(), MaxTokens: s.maxTokens})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	sources := make([]int, len(outputs))
	for i, c := range outputs {
		sources[i] = c.Seq
	}
	return &models.FinalResult{
		Answer:   strings.TrimSpace(answer),
		Plan:     snap.Plan.Clone(),
		Counters: snap.Counters,
		Sources:  sources,
	}, nil
}

// Report builds the diagnostic bundle for a failed run.
func Report(snap models.Snapshot, reason models.FailureReason, detail string) *models.FailureReport {
	return &models.FailureReport{
		Reason:    reason,
		Detail:    detail,
		State:     snap.State,
		Plan:      snap.Plan.Clone(),
		Counters:  snap.Counters,
		LastError: snap.LastError(),
	}
}
