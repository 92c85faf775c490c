// Package planner turns a task into a plan of sub-goals, and replans from
// accumulated context after a reset.
package planner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// ErrEmptyPlan is returned when a planner produced no sub-goals.
var ErrEmptyPlan = errors.New("planner produced no sub-goals")

// Kinds accepted by the configuration.
const (
	KindSplit   = "split"
	KindBackend = "backend"
)

// Planner builds the initial plan (snap.Plan is nil) or a replacement plan
// after a reset (snap.Plan is the discarded plan).
type Planner interface {
	Plan(ctx context.Context, snap models.Snapshot) (*models.Plan, error)
}

// Func adapts a function to the Planner interface.
type Func func(ctx context.Context, snap models.Snapshot) (*models.Plan, error)

// Plan calls f.
func (f Func) Plan(ctx context.Context, snap models.Snapshot) (*models.Plan, error) {
	return f(ctx, snap)
}

// GoalID returns the ID of the n-th (1-based) goal of a plan version.
// The first plan uses short IDs; replans are prefixed with their version.
func GoalID(version, n int) string {
	if version <= 1 {
		return fmt.Sprintf("g%d", n)
	}
	return fmt.Sprintf("p%d.g%d", version, n)
}

// NextVersion returns the version of the plan that replaces prev.
func NextVersion(prev *models.Plan) int {
	if prev == nil {
		return 1
	}
	return prev.Version + 1
}

// Split is a deterministic planner that makes one sub-goal per line or
// sentence of the task statement. Replans keep the same goals under a new
// version.
type Split struct {
	// MaxGoals caps the number of sub-goals; 0 means no cap.
	MaxGoals int
}

// Plan implements Planner.
func (s Split) Plan(_ context.Context, snap models.Snapshot) (*models.Plan, error) {
	parts := SplitStatement(snap.Task.Statement)
	if len(parts) == 0 {
		return nil, ErrEmptyPlan
	}
	if s.MaxGoals > 0 && len(parts) > s.MaxGoals {
		tail := strings.Join(parts[s.MaxGoals-1:], " ")
		parts = append(parts[:s.MaxGoals-1], tail)
	}

	version := NextVersion(snap.Plan)
	plan := &models.Plan{Version: version}
	for i, p := range parts {
		plan.Goals = append(plan.Goals, models.SubGoal{
			ID:          GoalID(version, i+1),
			Description: p,
			Status:      models.SubGoalPending,
		})
	}
	return plan, nil
}

var (
	listMarker    = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)
	sentenceBreak = regexp.MustCompile(`[.!?;]\s+`)
)

// SplitStatement breaks a statement into trimmed lines, or sentences when it
// is a single line. List markers are removed.
func SplitStatement(statement string) []string {
	var lines []string
	for _, l := range strings.Split(statement, "\n") {
		l = strings.TrimSpace(listMarker.ReplaceAllString(l, ""))
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) != 1 {
		return lines
	}

	var out []string
	rest := lines[0]
	for {
		loc := sentenceBreak.FindStringIndex(rest)
		if loc == nil {
			break
		}
		if s := strings.TrimSpace(rest[:loc[0]+1]); s != "" {
			out = append(out, s)
		}
		rest = rest[loc[1]:]
	}
	if s := strings.TrimSpace(rest); s != "" {
		out = append(out, s)
	}
	return out
}
