package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ShayCichocki/magentic/internal/criteria"
	"github.com/ShayCichocki/magentic/internal/orchestrator/policy"
	"github.com/ShayCichocki/magentic/pkg/models"
)

// Manager is the decision core of the orchestrator. Given a snapshot of a
// run it decides what happens next. It holds no per-run state, so the same
// snapshot always yields the same decision for deterministic criteria.
type Manager struct {
	agents      []models.AgentDescriptor
	scorer      Scorer
	criterion   criteria.Criterion
	limits      policy.Limits
	maxParallel int
}

// NewManager creates a manager over agents in registry declaration order.
func NewManager(agents []models.AgentDescriptor, scorer Scorer, criterion criteria.Criterion, limits policy.Limits, maxParallel int) *Manager {
	if scorer == nil {
		scorer = KeywordScorer
	}
	if criterion == nil {
		criterion = criteria.Plan{}
	}
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Manager{
		agents:      agents,
		scorer:      scorer,
		criterion:   criterion,
		limits:      limits,
		maxParallel: maxParallel,
	}
}

// Advance decides the next step:
//
//  1. Synthesize when the completion criterion is met.
//  2. Stall when the stall counter reached its limit.
//  3. Reset (or Fail with plan_exhausted once resets are spent) when no
//     sub-goal can be dispatched.
//  4. Dispatch the ready sub-goals otherwise.
//
// An error is returned only when ctx ended while the criterion was evaluated.
// Other criterion failures produce Fail with backend_unavailable.
func (m *Manager) Advance(ctx context.Context, snap models.Snapshot) (models.Decision, error) {
	met, err := m.criterion.Met(ctx, snap)
	if err != nil {
		if ctx.Err() != nil {
			return models.Decision{}, ctx.Err()
		}
		return models.Fail(models.ReasonBackendUnavailable, fmt.Sprintf("completion criterion: %v", err)), nil
	}
	if met {
		return models.Decision{Kind: models.DecisionSynthesize}, nil
	}

	if snap.Counters.Stall >= m.limits.MaxStalls {
		return models.Decision{
			Kind:   models.DecisionStall,
			Reason: fmt.Sprintf("no progress in %d consecutive rounds", snap.Counters.Stall),
		}, nil
	}

	ready := snap.Plan.Ready()
	if len(ready) == 0 {
		reason := "every sub-goal is done but the completion criterion is unmet"
		if snap.Plan.Pending() > 0 {
			reason = "no pending sub-goal has its dependencies met"
		}
		if snap.Counters.Reset >= m.limits.MaxResets {
			return models.Fail(models.ReasonPlanExhausted, reason), nil
		}
		return models.Decision{Kind: models.DecisionReset, Reason: reason}, nil
	}

	d := models.Decision{Kind: models.DecisionDispatch}
	for _, g := range ready {
		if len(d.Assignments) == m.maxParallel {
			break
		}
		name, ok := m.Select(*g, nil)
		if !ok {
			return models.Fail(models.ReasonPlanExhausted, "no agents registered"), nil
		}
		d.Assignments = append(d.Assignments, models.Assignment{
			Agent:     name,
			SubGoalID: g.ID,
			SubTask:   Instructions(*g),
			Retry:     g.Attempts > 0,
		})
	}
	return d, nil
}

// Select returns the best-scoring agent for goal that is not excluded.
// Ties go to the agent declared first.
func (m *Manager) Select(goal models.SubGoal, exclude []string) (string, bool) {
	best, bestScore := "", 0.0
	for _, a := range m.agents {
		if slices.Contains(exclude, a.Name) {
			continue
		}
		score := m.scorer(goal, a)
		if best == "" || score > bestScore {
			best, bestScore = a.Name, score
		}
	}
	return best, best != ""
}

// StalledGoal returns the sub-goal a stall is attributed to: the first ready
// sub-goal that has been attempted, or the first ready one.
func StalledGoal(plan *models.Plan) *models.SubGoal {
	ready := plan.Ready()
	for _, g := range ready {
		if g.Attempts > 0 {
			return g
		}
	}
	if len(ready) > 0 {
		return ready[0]
	}
	return nil
}

// Retry builds the dispatch that resolves a stall by handing the stalled
// sub-goal to the best agent that has not tried it yet.
func (m *Manager) Retry(snap models.Snapshot) (models.Decision, bool) {
	g := StalledGoal(snap.Plan)
	if g == nil {
		return models.Decision{}, false
	}
	name, ok := m.Select(*g, g.Tried)
	if !ok {
		return models.Decision{}, false
	}
	return models.Decision{
		Kind: models.DecisionDispatch,
		Assignments: []models.Assignment{{
			Agent:     name,
			SubGoalID: g.ID,
			SubTask:   Instructions(*g),
			Retry:     true,
		}},
		Reason: "stall retry on an untried agent",
	}, true
}

// Instructions renders the sub-task text for a sub-goal. After an attempt,
// the note on how it went is appended so the agent can adjust.
func Instructions(g models.SubGoal) string {
	if g.Attempts == 0 || g.LastNote == "" {
		return g.Description
	}
	var b strings.Builder
	b.WriteString(g.Description)
	fmt.Fprintf(&b, "\n\nNote on attempt %d: %s.", g.Attempts, g.LastNote)
	b.WriteString("\nBuild on the shared context and produce new, non-empty output.")
	return b.String()
}
