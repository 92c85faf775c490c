package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/magentic/internal/agent"
	"github.com/ShayCichocki/magentic/internal/metrics"
	"github.com/ShayCichocki/magentic/internal/orchestrator"
	"github.com/ShayCichocki/magentic/internal/orchestrator/policy"
	"github.com/ShayCichocki/magentic/internal/planner"
	"github.com/ShayCichocki/magentic/internal/state"
	"github.com/ShayCichocki/magentic/pkg/models"
)

func researcher() agent.Entry {
	return agent.Entry{
		Descriptor: models.AgentDescriptor{Name: "Researcher", Capability: "Searches the web and gathers facts", Kind: models.AgentKindScripted},
		Agent:      agent.NewScripted("Researcher", agent.Script{Steps: []agent.Step{{Output: "The answer is 42."}}, Then: agent.ExhaustRepeatLast}),
	}
}

// blocking returns an agent that waits until its call is cancelled.
func blocking() agent.Entry {
	return agent.Entry{
		Descriptor: models.AgentDescriptor{Name: "Researcher", Capability: "Searches the web and gathers facts"},
		Agent: agent.Func(func(ctx context.Context, _ agent.Request) (agent.Response, error) {
			<-ctx.Done()
			return agent.Response{}, ctx.Err()
		}),
	}
}

func newOrchestrator(t *testing.T, entry agent.Entry, opts ...orchestrator.Option) *orchestrator.Orchestrator {
	t.Helper()
	reg, err := agent.NewRegistry(entry)
	require.NoError(t, err)

	p := policy.Default()
	p.Dispatch.AgentTimeout = time.Minute
	p.Events.BufferSize = 1024
	opts = append([]orchestrator.Option{orchestrator.WithPolicy(p)}, opts...)

	o, err := orchestrator.New(orchestrator.RequiredConfig{Registry: reg, Planner: planner.Split{}}, opts...)
	require.NoError(t, err)
	return o
}

func newTestServer(t *testing.T, starter Starter, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s := New(starter, cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func postRun(t *testing.T, ts *httptest.Server, statement string) (*http.Response, RunResponse) {
	t.Helper()
	body, err := json.Marshal(CreateRunRequest{Statement: statement})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/v1/runs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var run RunResponse
	if resp.StatusCode == http.StatusAccepted {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	}
	return resp, run
}

func getRun(t *testing.T, ts *httptest.Server, id string) (int, RunResponse) {
	t.Helper()
	resp, err := http.Get(ts.URL + "/v1/runs/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()

	var run RunResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	}
	return resp.StatusCode, run
}

func waitFinished(t *testing.T, ts *httptest.Server, id string) RunResponse {
	t.Helper()
	var run RunResponse
	require.Eventually(t, func() bool {
		_, run = getRun(t, ts, id)
		return !run.Active && run.Result != nil
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func TestCreateRun_Completes(t *testing.T) {
	_, ts := newTestServer(t, newOrchestrator(t, researcher()), Config{})

	resp, created := postRun(t, ts, "Find the answer")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "Find the answer", created.Statement)

	run := waitFinished(t, ts, created.ID)
	assert.Equal(t, models.StateComplete, run.State)
	require.NotNil(t, run.Result.Final)
	assert.Contains(t, run.Result.Final.Answer, "42")
	assert.NotEmpty(t, run.Contributions)
}

func TestCreateRun_Validation(t *testing.T) {
	_, ts := newTestServer(t, newOrchestrator(t, researcher()), Config{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing statement", `{"criterion":"done"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/v1/runs", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestGetRun_NotFound(t *testing.T) {
	_, ts := newTestServer(t, newOrchestrator(t, researcher()), Config{})

	status, _ := getRun(t, ts, "missing")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEvents_StreamsUntilFinished(t *testing.T) {
	_, ts := newTestServer(t, newOrchestrator(t, researcher()), Config{})

	_, created := postRun(t, ts, "Find the answer")

	resp, err := http.Get(ts.URL + "/v1/runs/" + created.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			types = append(types, name)
		}
	}
	require.NoError(t, scanner.Err())

	require.NotEmpty(t, types)
	assert.Equal(t, string(orchestrator.EventRunStarted), types[0])
	assert.Equal(t, string(orchestrator.EventRunFinished), types[len(types)-1])
	assert.Contains(t, types, string(orchestrator.EventDecision))
}

func TestCancelRun(t *testing.T) {
	_, ts := newTestServer(t, newOrchestrator(t, blocking()), Config{})

	_, created := postRun(t, ts, "Wait forever")

	resp, err := http.Post(ts.URL+"/v1/runs/"+created.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	run := waitFinished(t, ts, created.ID)
	assert.Equal(t, models.StateFailed, run.State)
	require.NotNil(t, run.Result.Failure)
	assert.Equal(t, models.ReasonCancelled, run.Result.Failure.Reason)

	resp, err = http.Post(ts.URL+"/v1/runs/"+created.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/v1/runs/missing/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateRun_ConcurrencyLimit(t *testing.T) {
	_, ts := newTestServer(t, newOrchestrator(t, blocking()), Config{MaxConcurrentRuns: 1})

	resp, first := postRun(t, ts, "Wait forever")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = postRun(t, ts, "Wait as well")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	cancel, err := http.Post(ts.URL+"/v1/runs/"+first.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	cancel.Body.Close()

	// The slot is released once the first run has finished.
	require.Eventually(t, func() bool {
		resp, run := postRun(t, ts, "Try again")
		if resp.StatusCode != http.StatusAccepted {
			return false
		}
		c, err := http.Post(ts.URL+"/v1/runs/"+run.ID+"/cancel", "application/json", nil)
		if err == nil {
			c.Body.Close()
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestListRuns_MergesJournal(t *testing.T) {
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	old := time.Now().Add(-time.Hour)
	require.NoError(t, db.CreateRun(context.Background(), &state.Run{
		ID: "earlier", TaskID: "t0", Statement: "from a previous process",
		State: models.StatePlanning, StartedAt: old,
	}))

	o := newOrchestrator(t, researcher(), orchestrator.WithJournal(state.NewJournal(db)))
	_, ts := newTestServer(t, o, Config{Store: db})

	_, created := postRun(t, ts, "Find the answer")
	waitFinished(t, ts, created.ID)

	resp, err := http.Get(ts.URL + "/v1/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list ListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Runs, 2)
	assert.Equal(t, created.ID, list.Runs[0].ID)
	assert.Equal(t, "earlier", list.Runs[1].ID)

	status, stored := getRun(t, ts, "earlier")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "from a previous process", stored.Statement)
	assert.False(t, stored.Active)

	resp, err = http.Get(ts.URL + "/v1/runs?limit=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetire_EvictsOldest(t *testing.T) {
	s := New(newOrchestrator(t, researcher()), Config{MaxRetained: 2})
	t.Cleanup(s.Close)

	for _, id := range []string{"a", "b", "c"} {
		s.runs[id] = &tracked{done: true, notify: make(chan struct{})}
		s.retire(id)
	}

	assert.Nil(t, s.lookup("a"))
	assert.NotNil(t, s.lookup("b"))
	assert.NotNil(t, s.lookup("c"))
}

func TestHealthAndMetrics(t *testing.T) {
	rec := metrics.NewRecorder()
	_, ts := newTestServer(t, newOrchestrator(t, researcher(), orchestrator.WithRecorder(rec)), Config{Metrics: rec.Handler()})

	resp, err := http.Get(ts.URL + "/_healthz")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])

	_, created := postRun(t, ts, "Find the answer")
	waitFinished(t, ts, created.ID)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "magentic_runs_started_total 1")
}
