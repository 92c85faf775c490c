// Package policy defines the configurable limits that bound an orchestration
// run. It centralizes the values the run loop, stall controller and event
// stream consult, so they can be configured and tested.
package policy

import (
	"fmt"
	"time"
)

// Config contains all policy parameters for a run.
type Config struct {
	// Limits bound rounds, stalls and resets.
	Limits Limits

	// Dispatch controls agent invocation.
	Dispatch DispatchPolicy

	// Events controls the run event stream.
	Events EventPolicy

	// Context controls what agents see of the shared context.
	Context ContextPolicy
}

// Limits bound the run loop.
type Limits struct {
	// MaxRounds caps the round counter. Every decision cycle takes a round,
	// stall and reset decisions included, so stall recovery needs headroom
	// beyond the dispatch rounds: with the default stall and reset limits a
	// run whose agents never make progress needs 12 rounds to exhaust its
	// resets (plan_exhausted) before the round budget runs out.
	MaxRounds int

	// MaxStalls is the number of consecutive rounds without progress that
	// triggers a stall.
	MaxStalls int

	// MaxResets is the number of full plan replacements tolerated.
	MaxResets int

	// MaxStallRetries is the number of times a stalled sub-goal is retried on
	// another agent before escalating to a reset. Counted per plan.
	MaxStallRetries int
}

// DispatchPolicy controls agent invocation.
type DispatchPolicy struct {
	// AgentTimeout bounds a single agent invocation. Zero disables the limit.
	AgentTimeout time.Duration

	// MaxParallel is the number of ready sub-goals dispatched in one round.
	MaxParallel int
}

// EventPolicy controls the event stream.
type EventPolicy struct {
	// BufferSize is the capacity of the event channel. When the subscriber
	// lags the oldest buffered event is dropped.
	BufferSize int
}

// ContextPolicy controls agent context views.
type ContextPolicy struct {
	// Window keeps only the last N non-plan entries verbatim in agent views.
	// Zero shows the full history.
	Window int
}

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		Limits: Limits{
			MaxRounds:       10,
			MaxStalls:       3,
			MaxResets:       2,
			MaxStallRetries: 0,
		},
		Dispatch: DispatchPolicy{
			AgentTimeout: 2 * time.Minute,
			MaxParallel:  1,
		},
		Events: EventPolicy{
			BufferSize: 64,
		},
	}
}

// Validate checks that policy values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Limits.MaxRounds < 1 {
		return fmt.Errorf("max_round_count must be at least 1, got %d", c.Limits.MaxRounds)
	}
	if c.Limits.MaxStalls < 1 {
		return fmt.Errorf("max_stall_count must be at least 1, got %d", c.Limits.MaxStalls)
	}
	if c.Limits.MaxResets < 0 {
		return fmt.Errorf("max_reset_count must not be negative, got %d", c.Limits.MaxResets)
	}
	if c.Limits.MaxStallRetries < 0 {
		return fmt.Errorf("max_stall_retries must not be negative, got %d", c.Limits.MaxStallRetries)
	}
	if c.Dispatch.AgentTimeout < 0 {
		return fmt.Errorf("agent_timeout must not be negative, got %s", c.Dispatch.AgentTimeout)
	}
	if c.Dispatch.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1, got %d", c.Dispatch.MaxParallel)
	}
	if c.Events.BufferSize < 1 {
		return fmt.Errorf("event_buffer must be at least 1, got %d", c.Events.BufferSize)
	}
	if c.Context.Window < 0 {
		return fmt.Errorf("context_window must not be negative, got %d", c.Context.Window)
	}
	return nil
}
