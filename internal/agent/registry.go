package agent

import (
	"fmt"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// Entry binds a descriptor to its implementation.
type Entry struct {
	Descriptor models.AgentDescriptor
	Agent      Agent
}

// Registry is the fixed, ordered set of agents available to a run.
// It is built once and never mutated, so it needs no locking.
type Registry struct {
	entries []Entry
	index   map[string]int
}

// NewRegistry builds a registry; declaration order is preserved and used to
// break selection ties.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		name := e.Descriptor.Name
		if name == "" {
			return nil, fmt.Errorf("agent name is required")
		}
		if name == models.OrchestratorProducer {
			return nil, fmt.Errorf("agent name %q is reserved", name)
		}
		if e.Agent == nil {
			return nil, fmt.Errorf("agent %q has no implementation", name)
		}
		if _, dup := r.index[name]; dup {
			return nil, fmt.Errorf("duplicate agent name %q", name)
		}
		r.index[name] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (Entry, bool) {
	i, ok := r.index[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Descriptors returns all descriptors in declaration order.
func (r *Registry) Descriptors() []models.AgentDescriptor {
	out := make([]models.AgentDescriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Descriptor
	}
	return out
}

// Names returns agent names in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Descriptor.Name
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.entries)
}
