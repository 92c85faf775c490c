package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ShayCichocki/magentic/internal/backend"
	"github.com/ShayCichocki/magentic/pkg/models"
)

// Spec is the configuration of one agent.
type Spec struct {
	Name         string
	Capability   string
	Kind         models.AgentKind
	Instructions string
	MaxTokens    int64

	// MCP
	Command    string
	Args       []string
	Env        []string
	Tool       string
	TaskArg    string
	ContextArg string

	// HTTP
	URL     string
	Headers map[string]string

	// Scripted
	Script string
}

// Validate checks that the fields required by the kind are set.
func (s Spec) Validate() error {
	if s.Name == "" {
		return errors.New("agent name is required")
	}
	if s.Capability == "" {
		return fmt.Errorf("agent %q: capability is required", s.Name)
	}
	switch s.Kind {
	case models.AgentKindLLM:
	case models.AgentKindMCP:
		if s.Command == "" || s.Tool == "" {
			return fmt.Errorf("agent %q: mcp agents need command and tool", s.Name)
		}
	case models.AgentKindHTTP:
		if s.URL == "" {
			return fmt.Errorf("agent %q: http agents need url", s.Name)
		}
	case models.AgentKindScripted:
		if s.Script == "" {
			return fmt.Errorf("agent %q: scripted agents need script", s.Name)
		}
	default:
		return fmt.Errorf("agent %q: unknown kind %q", s.Name, s.Kind)
	}
	return nil
}

// Deps are shared resources handed to agents on construction.
type Deps struct {
	// Backend serves llm agents.
	Backend backend.Backend
	// HTTPClient serves http agents; nil uses http.DefaultClient.
	HTTPClient *http.Client
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i].Close())
	}
	return errors.Join(errs...)
}

// Build constructs a registry from specs in order. The returned closer
// releases MCP sessions and must be called when the registry is done.
func Build(ctx context.Context, specs []Spec, deps Deps) (*Registry, io.Closer, error) {
	var (
		entries []Entry
		open    closers
	)
	fail := func(err error) (*Registry, io.Closer, error) {
		_ = open.Close()
		return nil, nil, err
	}

	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return fail(err)
		}

		var a Agent
		switch s.Kind {
		case models.AgentKindLLM:
			if deps.Backend == nil {
				return fail(fmt.Errorf("agent %q: no completion backend configured", s.Name))
			}
			a = NewLLM(s.Name, s.Capability, s.Instructions, deps.Backend, s.MaxTokens)
		case models.AgentKindMCP:
			c, err := DialMCP(ctx, MCPConfig{Command: s.Command, Args: s.Args, Env: s.Env})
			if err != nil {
				return fail(fmt.Errorf("agent %q: %w", s.Name, err))
			}
			m := NewMCP(s.Name, c, s.Tool, s.TaskArg, s.ContextArg)
			open = append(open, m)
			a = m
		case models.AgentKindHTTP:
			a = NewHTTP(s.Name, s.URL, s.Headers, deps.HTTPClient)
		case models.AgentKindScripted:
			script, err := LoadScript(s.Script)
			if err != nil {
				return fail(fmt.Errorf("agent %q: %w", s.Name, err))
			}
			a = NewScripted(s.Name, *script)
		}

		entries = append(entries, Entry{
			Descriptor: models.AgentDescriptor{Name: s.Name, Capability: s.Capability, Kind: s.Kind},
			Agent:      a,
		})
	}

	reg, err := NewRegistry(entries...)
	if err != nil {
		return fail(err)
	}
	return reg, open, nil
}
