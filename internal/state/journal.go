package state

import (
	"context"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// Journal records runs into a StateStore as they progress. It satisfies the
// orchestrator's journal hook.
type Journal struct {
	store StateStore
}

// NewJournal creates a journal writing to store.
func NewJournal(store StateStore) *Journal {
	return &Journal{store: store}
}

// RunStarted records a new run.
func (j *Journal) RunStarted(ctx context.Context, runID string, task models.Task) error {
	return j.store.CreateRun(ctx, &Run{
		ID:        runID,
		TaskID:    task.ID,
		Statement: task.Statement,
		Criterion: task.Criterion,
		State:     models.StatePlanning,
		StartedAt: task.CreatedAt,
	})
}

// ContributionAppended records a ledger entry.
func (j *Journal) ContributionAppended(ctx context.Context, runID string, c models.Contribution) error {
	return j.store.AppendContribution(ctx, runID, c)
}

// RunFinished records the outcome.
func (j *Journal) RunFinished(ctx context.Context, result *models.Result) error {
	return j.store.FinishRun(ctx, result)
}
