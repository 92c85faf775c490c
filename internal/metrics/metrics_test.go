package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ShayCichocki/magentic/pkg/models"
)

func TestRecorder_Runs(t *testing.T) {
	r := NewRecorder()

	r.RunStarted()
	r.RunStarted()
	if got := testutil.ToFloat64(r.runsActive); got != 2 {
		t.Errorf("active runs = %v, want 2", got)
	}

	r.RunFinished(&models.Result{
		State: models.StateComplete,
		Final: &models.FinalResult{Counters: models.Counters{Round: 3}},
	})
	r.RunFinished(&models.Result{
		State:   models.StateFailed,
		Failure: &models.FailureReport{Reason: models.ReasonPlanExhausted, Counters: models.Counters{Round: 12}},
	})

	if got := testutil.ToFloat64(r.runsStarted); got != 2 {
		t.Errorf("started = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.runsActive); got != 0 {
		t.Errorf("active runs = %v, want 0", got)
	}
	if got := testutil.ToFloat64(r.runsFinished.WithLabelValues("COMPLETE", "")); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.runsFinished.WithLabelValues("FAILED", "plan_exhausted")); got != 1 {
		t.Errorf("plan_exhausted = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(r.runRounds); got != 1 {
		t.Errorf("round histogram series = %d, want 1", got)
	}
}

func TestRecorder_DecisionsAndAgents(t *testing.T) {
	r := NewRecorder()

	r.DecisionTaken(models.DecisionDispatch)
	r.DecisionTaken(models.DecisionDispatch)
	r.DecisionTaken(models.DecisionSynthesize)
	r.AgentInvoked("Researcher", models.Contribution{Status: models.StatusSuccess}, 20*time.Millisecond)
	r.AgentInvoked("Researcher", models.Contribution{Status: models.StatusError, ErrorKind: models.ErrorKindTimeout}, time.Second)
	r.EventDropped()

	if got := testutil.ToFloat64(r.decisions.WithLabelValues("dispatch")); got != 2 {
		t.Errorf("dispatch decisions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.invocations.WithLabelValues("Researcher", "error", "agent_timeout")); got != 1 {
		t.Errorf("timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.eventsDropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.RunStarted()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"magentic_runs_started_total 1", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
