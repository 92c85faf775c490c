package criteria

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// Expr evaluates a boolean expression over run statistics, for example
// `done >= 2 && errors == 0` or `any(outputs, {# contains "DONE"})`.
type Expr struct {
	source  string
	program *vm.Program
}

// NewExpr compiles source against the environment built by Env.
func NewExpr(source string) (*Expr, error) {
	if source == "" {
		return nil, fmt.Errorf("expr criterion needs an expression")
	}
	program, err := expr.Compile(source, expr.Env(Env(models.Snapshot{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile criterion %q: %w", source, err)
	}
	return &Expr{source: source, program: program}, nil
}

// String returns the expression source.
func (e *Expr) String() string {
	return e.source
}

// Met implements Criterion.
func (e *Expr) Met(_ context.Context, snap models.Snapshot) (bool, error) {
	out, err := expr.Run(e.program, Env(snap))
	if err != nil {
		return false, fmt.Errorf("evaluate criterion %q: %w", e.source, err)
	}
	met, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("criterion %q returned %T", e.source, out)
	}
	return met, nil
}

// Env exposes a snapshot to expressions.
//
//	round, stalls, resets  counters
//	successes, partials, errors  agent contribution counts by status
//	done, pending, goals   plan progress
//	last                   payload of the latest non-error agent contribution
//	outputs                payloads of all non-error agent contributions
func Env(snap models.Snapshot) map[string]any {
	var successes, partials, errs int
	outputs := []string{}
	last := ""
	for _, c := range snap.Contributions {
		if !c.IsAgent() {
			continue
		}
		switch c.Status {
		case models.StatusError:
			errs++
			continue
		case models.StatusPartial:
			partials++
		default:
			successes++
		}
		outputs = append(outputs, c.Payload)
		last = c.Payload
	}

	goals, pending := 0, 0
	if snap.Plan != nil {
		goals = len(snap.Plan.Goals)
		pending = snap.Plan.Pending()
	}

	return map[string]any{
		"round":     snap.Counters.Round,
		"stalls":    snap.Counters.Stall,
		"resets":    snap.Counters.Reset,
		"successes": successes,
		"partials":  partials,
		"errors":    errs,
		"goals":     goals,
		"done":      goals - pending,
		"pending":   pending,
		"last":      last,
		"outputs":   outputs,
	}
}
