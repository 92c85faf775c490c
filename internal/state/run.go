package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// Run is the journal record of one orchestration run.
type Run struct {
	ID         string               `json:"id"`
	TaskID     string               `json:"task_id"`
	Statement  string               `json:"statement"`
	Criterion  string               `json:"criterion,omitempty"`
	State      models.State         `json:"state"`
	Reason     models.FailureReason `json:"reason,omitempty"`
	Detail     string               `json:"detail,omitempty"`
	Answer     string               `json:"answer,omitempty"`
	Rounds     int                  `json:"rounds"`
	Resets     int                  `json:"resets"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	// Result is the full outcome, present once the run finished.
	Result *models.Result `json:"result,omitempty"`
}

// Finished returns true once the run reached a terminal state.
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}

// Decision is a decision entry of a run, indexed for queries.
type Decision struct {
	Seq     int                 `json:"seq"`
	Round   int                 `json:"round"`
	Kind    models.DecisionKind `json:"kind"`
	Summary string              `json:"summary"`
}

// ListFilter narrows ListRuns.
type ListFilter struct {
	// State limits results to runs in this state. Empty means all.
	State models.State
	// Limit caps the number of runs returned. Zero means no limit.
	Limit int
}

// Run CRUD operations

// CreateRun records a started run.
func (db *DB) CreateRun(ctx context.Context, r *Run) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, statement, criterion, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.TaskID, r.Statement, r.Criterion, string(r.State), formatTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun stores the outcome of a run. A run that was never created (for
// example a rejected task) is inserted.
func (db *DB) FinishRun(ctx context.Context, result *models.Result) error {
	if result == nil {
		return errors.New("finish run: nil result")
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	var (
		reason, detail, answer string
		counters               models.Counters
	)
	if result.Final != nil {
		answer = result.Final.Answer
		counters = result.Final.Counters
	}
	if result.Failure != nil {
		reason = string(result.Failure.Reason)
		detail = result.Failure.Detail
		counters = result.Failure.Counters
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, statement, state, reason, detail, answer, rounds, resets, result, started_at, finished_at)
		VALUES (?, '', '', ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			reason = excluded.reason,
			detail = excluded.detail,
			answer = excluded.answer,
			rounds = excluded.rounds,
			resets = excluded.resets,
			result = excluded.result,
			finished_at = excluded.finished_at
	`, result.RunID, string(result.State), reason, detail, answer, counters.Round, counters.Reset,
		string(raw), formatTime(result.StartedAt), formatTime(result.FinishedAt))
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

const runColumns = `id, task_id, statement, criterion, state, reason, detail, answer, rounds, resets, result, started_at, finished_at`

// GetRun retrieves a run by ID. It returns nil when the run does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns lists runs, most recent first.
func (db *DB) ListRuns(filter ListFilter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
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

// DeleteRun deletes a run and its history.
func (db *DB) DeleteRun(id string) error {
	_, err := db.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r          Run
		state      string
		reason     string
		result     sql.NullString
		startedAt  string
		finishedAt sql.NullString
	)
	err := s.Scan(&r.ID, &r.TaskID, &r.Statement, &r.Criterion, &state, &reason, &r.Detail,
		&r.Answer, &r.Rounds, &r.Resets, &result, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	r.State = models.State(state)
	r.Reason = models.FailureReason(reason)
	r.StartedAt, _ = parseTime(startedAt)
	r.FinishedAt = parseNullableTime(finishedAt)
	if result.Valid && result.String != "" {
		var res models.Result
		if err := json.Unmarshal([]byte(result.String), &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		r.Result = &res
	}
	return &r, nil
}

// Contribution operations

// AppendContribution stores one ledger entry. Decision entries are also
// indexed in the decisions table.
func (db *DB) AppendContribution(ctx context.Context, runID string, c models.Contribution) error {
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contributions (run_id, seq, producer, kind, round, sub_goal_id, payload, status, error_kind, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, c.Seq, c.Producer, string(c.Kind), c.Round, c.SubGoalID, c.Payload,
			string(c.Status), string(c.ErrorKind), formatTime(c.Timestamp))
		if err != nil {
			return fmt.Errorf("append contribution #%d: %w", c.Seq, err)
		}

		if c.Kind != models.KindDecision {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO decisions (run_id, seq, round, kind, summary) VALUES (?, ?, ?, ?, ?)
		`, runID, c.Seq, c.Round, string(DecisionKindOf(c.Payload)), c.Payload)
		if err != nil {
			return fmt.Errorf("index decision #%d: %w", c.Seq, err)
		}
		return nil
	})
}

// DecisionKindOf extracts the decision kind from a rendered decision.
func DecisionKindOf(summary string) models.DecisionKind {
	word, _, _ := strings.Cut(summary, " ")
	return models.DecisionKind(strings.TrimSuffix(word, ":"))
}

// ListContributions returns the history of a run in sequence order.
func (db *DB) ListContributions(runID string) ([]models.Contribution, error) {
	rows, err := db.Query(`
		SELECT seq, producer, kind, round, sub_goal_id, payload, status, error_kind, created_at
		FROM contributions WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	var out []models.Contribution
	for rows.Next() {
		var (
			c         models.Contribution
			kind      string
			status    string
			errorKind string
			createdAt string
		)
		if err := rows.Scan(&c.Seq, &c.Producer, &kind, &c.Round, &c.SubGoalID, &c.Payload,
			&status, &errorKind, &createdAt); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		c.Kind = models.ContributionKind(kind)
		c.Status = models.ContributionStatus(status)
		c.ErrorKind = models.ErrorKind(errorKind)
		c.Timestamp, _ = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListDecisions returns the decisions of a run in sequence order.
func (db *DB) ListDecisions(runID string) ([]Decision, error) {
	rows, err := db.Query(`
		SELECT seq, round, kind, summary FROM decisions WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var (
			d    Decision
			kind string
		)
		if err := rows.Scan(&d.Seq, &d.Round, &kind, &d.Summary); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Kind = models.DecisionKind(kind)
		out = append(out, d)
	}
	return out, rows.Err()
}
