package agent

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"
)

// Step is one canned reply of a scripted agent.
type Step struct {
	// Output is returned as the payload.
	Output string `yaml:"output"`
	// Partial marks the output as partial progress.
	Partial bool `yaml:"partial"`
	// Error fails the call: "unavailable", "timeout" or "execution".
	Error string `yaml:"error"`
	// Delay is waited before replying; the call honors cancellation.
	Delay time.Duration `yaml:"delay"`
}

// Exhausted behaviors once every step was used.
const (
	ExhaustRepeatLast = "repeat_last"
	ExhaustCycle      = "cycle"
	ExhaustEcho       = "echo"
)

// Script is the on-disk format of a scripted agent.
type Script struct {
	Steps []Step `yaml:"steps"`
	// Then says what happens after the last step; defaults to echo.
	Then string `yaml:"then"`
}

// LoadScript reads a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("script %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks step error names and the exhaustion mode.
func (s *Script) Validate() error {
	for i, st := range s.Steps {
		switch st.Error {
		case "", "unavailable", "timeout", "execution":
		default:
			return fmt.Errorf("step %d: unknown error %q", i+1, st.Error)
		}
	}
	switch s.Then {
	case "", ExhaustRepeatLast, ExhaustCycle, ExhaustEcho:
	default:
		return fmt.Errorf("unknown then %q", s.Then)
	}
	if (s.Then == ExhaustRepeatLast || s.Then == ExhaustCycle) && len(s.Steps) == 0 {
		return fmt.Errorf("then %q needs at least one step", s.Then)
	}
	return nil
}

// Scripted replays canned steps in order. It is used for demos, offline
// runs and tests.
type Scripted struct {
	name   string
	script Script

	mu    sync.Mutex
	calls int
}

// NewScripted creates a scripted agent.
func NewScripted(name string, script Script) *Scripted {
	return &Scripted{name: name, script: script}
}

// Calls returns how many times the agent was invoked.
func (a *Scripted) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *Scripted) next() (Step, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.calls
	a.calls++

	n := len(a.script.Steps)
	if i < n {
		return a.script.Steps[i], true
	}
	switch a.script.Then {
	case ExhaustRepeatLast:
		return a.script.Steps[n-1], true
	case ExhaustCycle:
		return a.script.Steps[i%n], true
	default:
		return Step{}, false
	}
}

// Invoke replays the next step.
func (a *Scripted) Invoke(ctx context.Context, req Request) (Response, error) {
	step, ok := a.next()
	if !ok {
		return Response{Payload: fmt.Sprintf("%s on %s: %s", a.name, req.SubGoalID, req.SubTask)}, nil
	}

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-timer.C:
		}
	}

	switch step.Error {
	case "unavailable":
		return Response{}, fmt.Errorf("%s: %w", a.name, ErrUnavailable)
	case "timeout":
		return Response{}, fmt.Errorf("%s: %w", a.name, ErrTimeout)
	case "execution":
		msg := step.Output
		if msg == "" {
			msg = "scripted failure"
		}
		return Response{}, fmt.Errorf("%s: %w: %s", a.name, ErrExecution, msg)
	}
	return Response{Payload: step.Output, Partial: step.Partial}, nil
}
