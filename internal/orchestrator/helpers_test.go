package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/magentic/internal/agent"
	"github.com/ShayCichocki/magentic/internal/orchestrator/policy"
	"github.com/ShayCichocki/magentic/internal/planner"
	"github.com/ShayCichocki/magentic/pkg/models"
)

const (
	researcherCapability = "Searches the web and gathers facts"
	coderCapability      = "Writes and runs code"
)

func scripted(name, capability string, script agent.Script) agent.Entry {
	return agent.Entry{
		Descriptor: models.AgentDescriptor{Name: name, Capability: capability, Kind: models.AgentKindScripted},
		Agent:      agent.NewScripted(name, script),
	}
}

func funcAgent(name, capability string, f agent.Func) agent.Entry {
	return agent.Entry{
		Descriptor: models.AgentDescriptor{Name: name, Capability: capability},
		Agent:      f,
	}
}

// silent returns an agent that always answers with an empty payload.
func silent(name, capability string) agent.Entry {
	return scripted(name, capability, agent.Script{Steps: []agent.Step{{Output: ""}}, Then: agent.ExhaustRepeatLast})
}

func testPolicy(mutate func(*policy.Config)) *policy.Config {
	p := policy.Default()
	p.Dispatch.AgentTimeout = 5 * time.Second
	p.Events.BufferSize = 1024
	if mutate != nil {
		mutate(p)
	}
	return p
}

func newTestOrchestrator(t *testing.T, entries []agent.Entry, opts ...Option) *Orchestrator {
	t.Helper()
	reg, err := agent.NewRegistry(entries...)
	require.NoError(t, err)

	o, err := New(RequiredConfig{Registry: reg, Planner: planner.Split{}}, opts...)
	require.NoError(t, err)
	return o
}

func task(statement string) models.Task {
	return models.Task{Statement: statement}
}

// decisions returns the payloads of decision entries in order.
func decisions(cs []models.Contribution) []string {
	var out []string
	for _, c := range cs {
		if c.Kind == models.KindDecision {
			out = append(out, c.Payload)
		}
	}
	return out
}

func agentEntries(cs []models.Contribution) []models.Contribution {
	var out []models.Contribution
	for _, c := range cs {
		if c.IsAgent() {
			out = append(out, c)
		}
	}
	return out
}

func requireGapless(t *testing.T, cs []models.Contribution) {
	t.Helper()
	for i, c := range cs {
		require.Equal(t, i+1, c.Seq, "sequence positions must be gapless")
	}
}

// collect drains the event stream of a finished or finishing run.
func collect(run *Run) []Event {
	var out []Event
	for ev := range run.Events() {
		out = append(out, ev)
	}
	return out
}

type memJournal struct {
	mu       sync.Mutex
	started  []string
	contribs []models.Contribution
	finished []*models.Result
}

func (j *memJournal) RunStarted(_ context.Context, runID string, _ models.Task) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.started = append(j.started, runID)
	return nil
}

func (j *memJournal) ContributionAppended(_ context.Context, _ string, c models.Contribution) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.contribs = append(j.contribs, c)
	return nil
}

func (j *memJournal) RunFinished(_ context.Context, result *models.Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished = append(j.finished, result)
	return nil
}

type countingRecorder struct {
	mu          sync.Mutex
	started     int
	finished    []models.State
	decisions   map[models.DecisionKind]int
	invocations map[string]int
	dropped     int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		decisions:   map[models.DecisionKind]int{},
		invocations: map[string]int{},
	}
}

func (r *countingRecorder) RunStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *countingRecorder) RunFinished(result *models.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, result.State)
}

func (r *countingRecorder) DecisionTaken(kind models.DecisionKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[kind]++
}

func (r *countingRecorder) AgentInvoked(name string, _ models.Contribution, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations[name]++
}

func (r *countingRecorder) EventDropped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}
