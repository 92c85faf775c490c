// Package backend defines the completion endpoint used by the orchestrator for
// planning, judging and synthesis, and by LLM-backed agents.
package backend

import (
	"context"
	"errors"
)

// ErrUnavailable marks failures that may succeed on retry (network errors,
// rate limiting, 5xx responses). Backends wrap it with %w.
var ErrUnavailable = errors.New("backend unavailable")

// Prompt is a single completion request.
type Prompt struct {
	// System is the system instruction.
	System string
	// User is the user message.
	User string
	// MaxTokens caps the response length; 0 uses the backend default.
	MaxTokens int64
}

// Backend turns a prompt into text.
type Backend interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Func adapts a function to the Backend interface.
type Func func(ctx context.Context, p Prompt) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}
