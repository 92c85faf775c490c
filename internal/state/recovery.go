package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// InterruptedDetail is the failure detail recorded for runs that were still
// in progress when their process exited.
const InterruptedDetail = "interrupted: the process exited before the run finished"

// RecoveryManager closes out runs that were left unfinished by a previous
// process so they do not show as running forever.
type RecoveryManager struct {
	db     *DB
	logger *slog.Logger
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB, logger *slog.Logger) *RecoveryManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryManager{db: db, logger: logger}
}

// Interrupted lists runs that never finished.
func (rm *RecoveryManager) Interrupted() ([]Run, error) {
	rows, err := rm.db.Query(`SELECT ` + runColumns + ` FROM runs WHERE finished_at IS NULL ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("list interrupted runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// MarkInterrupted fails every unfinished run with reason cancelled.
// Call it only when no run of this journal is active in any process.
// Returns the number of runs updated.
func (rm *RecoveryManager) MarkInterrupted(now time.Time) (int, error) {
	runs, err := rm.Interrupted()
	if err != nil {
		return 0, err
	}

	for _, r := range runs {
		result := &models.Result{
			RunID: r.ID,
			State: models.StateFailed,
			Failure: &models.FailureReport{
				Reason:   models.ReasonCancelled,
				Detail:   InterruptedDetail,
				State:    models.StateFailed,
				Counters: models.Counters{Round: r.Rounds, Reset: r.Resets},
			},
			StartedAt:  r.StartedAt,
			FinishedAt: now,
		}
		if err := rm.db.FinishRun(context.Background(), result); err != nil {
			return 0, fmt.Errorf("close run %s: %w", r.ID, err)
		}
		rm.logger.Warn("marked interrupted run as failed", "run_id", r.ID, "started_at", r.StartedAt)
	}
	return len(runs), nil
}
