package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// Summarizer bounds what an agent sees of the ledger. It is applied when a view
// is built and never changes the ledger itself.
type Summarizer interface {
	Summarize(ctx context.Context, entries []models.Contribution) ([]models.Contribution, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, entries []models.Contribution) ([]models.Contribution, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(ctx context.Context, entries []models.Contribution) ([]models.Contribution, error) {
	return f(ctx, entries)
}

// Identity returns views unchanged (full history).
type Identity struct{}

// Summarize returns entries as-is.
func (Identity) Summarize(_ context.Context, entries []models.Contribution) ([]models.Contribution, error) {
	return entries, nil
}

// Window keeps the task and plan entries plus the last Keep other entries.
// Older entries are folded into one summary entry listing producers and the
// first line of each payload. The result stays in Seq order: pinned entries
// keep their positions and the summary takes the place of the last folded
// entry.
type Window struct {
	Keep int
	// MaxLine truncates each folded line; 0 means 120 bytes.
	MaxLine int
}

func pinned(c models.Contribution) bool {
	return c.Kind == models.KindTask || c.Kind == models.KindPlan
}

// Summarize applies the window.
func (w Window) Summarize(_ context.Context, entries []models.Contribution) ([]models.Contribution, error) {
	if w.Keep <= 0 {
		return entries, nil
	}

	others := 0
	for _, c := range entries {
		if !pinned(c) {
			others++
		}
	}
	if others <= w.Keep {
		return entries, nil
	}
	fold := others - w.Keep

	maxLine := w.MaxLine
	if maxLine <= 0 {
		maxLine = 120
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d earlier entries summarized:\n", fold)

	out := make([]models.Contribution, 0, len(entries)-fold+1)
	folded := 0
	for _, c := range entries {
		if pinned(c) || folded == fold {
			out = append(out, c)
			continue
		}
		fmt.Fprintf(&b, "- #%d %s [%s]: %s\n", c.Seq, c.Producer, c.Status, FirstLine(c.Payload, maxLine))
		folded++
		if folded == fold {
			out = append(out, models.Contribution{
				Seq:       c.Seq,
				Producer:  models.OrchestratorProducer,
				Kind:      models.KindSummary,
				Round:     c.Round,
				Payload:   strings.TrimRight(b.String(), "\n"),
				Status:    models.StatusSuccess,
				Timestamp: c.Timestamp,
			})
		}
	}
	return out, nil
}
