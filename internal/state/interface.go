package state

import (
	"context"
	"io"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// RunStore handles run-level persistence operations.
type RunStore interface {
	CreateRun(ctx context.Context, r *Run) error
	GetRun(id string) (*Run, error)
	FinishRun(ctx context.Context, result *models.Result) error
	ListRuns(filter ListFilter) ([]Run, error)
	DeleteRun(id string) error
}

// ContributionStore handles the shared-context history of runs.
type ContributionStore interface {
	AppendContribution(ctx context.Context, runID string, c models.Contribution) error
	ListContributions(runID string) ([]models.Contribution, error)
	ListDecisions(runID string) ([]Decision, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore composes the run journal interfaces so commands and the server
// can work with any backend.
type StateStore interface {
	io.Closer
	Migrator
	RunStore
	ContributionStore
}

var (
	_ StateStore        = (*DB)(nil)
	_ Migrator          = (*DB)(nil)
	_ RunStore          = (*DB)(nil)
	_ ContributionStore = (*DB)(nil)
)
