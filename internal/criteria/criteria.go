// Package criteria decides when a run's task counts as complete.
package criteria

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/magentic/internal/backend"
	"github.com/ShayCichocki/magentic/pkg/models"
)

// Kinds accepted by New.
const (
	KindPlan  = "plan"
	KindExpr  = "expr"
	KindJudge = "judge"
)

// Criterion reports whether the accumulated context satisfies the task.
type Criterion interface {
	Met(ctx context.Context, snap models.Snapshot) (bool, error)
}

// Func adapts a function to the Criterion interface.
type Func func(ctx context.Context, snap models.Snapshot) (bool, error)

// Met calls f.
func (f Func) Met(ctx context.Context, snap models.Snapshot) (bool, error) {
	return f(ctx, snap)
}

// Plan is met once every sub-goal of the current plan is done.
type Plan struct{}

// Met implements Criterion.
func (Plan) Met(_ context.Context, snap models.Snapshot) (bool, error) {
	return snap.Plan.Done(), nil
}

// All is met when every criterion is met. Evaluation stops at the first
// criterion that is not.
func All(cs ...Criterion) Criterion {
	return Func(func(ctx context.Context, snap models.Snapshot) (bool, error) {
		for _, c := range cs {
			ok, err := c.Met(ctx, snap)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

// New builds a criterion by kind. expression is used by expr criteria and b by
// judge criteria.
func New(kind, expression string, b backend.Backend) (Criterion, error) {
	switch kind {
	case "", KindPlan:
		return Plan{}, nil
	case KindExpr:
		return NewExpr(expression)
	case KindJudge:
		if b == nil {
			return nil, fmt.Errorf("judge criterion needs a completion backend")
		}
		return NewJudge(b), nil
	default:
		return nil, fmt.Errorf("unknown criterion kind %q", kind)
	}
}
