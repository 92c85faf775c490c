// Package metrics exports run measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// Recorder counts runs, decisions, agent invocations and dropped events.
// It satisfies the orchestrator's recorder hook.
type Recorder struct {
	registry *prometheus.Registry

	runsStarted    prometheus.Counter
	runsActive     prometheus.Gauge
	runsFinished   *prometheus.CounterVec
	runRounds      prometheus.Histogram
	decisions      *prometheus.CounterVec
	invocations    *prometheus.CounterVec
	invokeDuration *prometheus.HistogramVec
	eventsDropped  prometheus.Counter
}

// NewRecorder registers the magentic metrics on a fresh registry together
// with the Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "magentic_runs_started_total",
			Help: "Total number of orchestration runs started",
		}),
		runsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "magentic_runs_active",
			Help: "Number of runs in progress",
		}),
		runsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "magentic_runs_finished_total",
			Help: "Total number of finished runs by terminal state and failure reason",
		}, []string{"state", "reason"}),
		runRounds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "magentic_run_rounds",
			Help:    "Decision rounds used per finished run",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "magentic_decisions_total",
			Help: "Total number of orchestrator decisions by kind",
		}, []string{"kind"}),
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "magentic_agent_invocations_total",
			Help: "Total number of agent invocations by agent and outcome",
		}, []string{"agent", "status", "error_kind"}),
		invokeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "magentic_agent_invocation_duration_seconds",
			Help:    "Duration of agent invocations",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent"}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "magentic_events_dropped_total",
			Help: "Total number of events discarded because a subscriber lagged",
		}),
	}
}

// Registry returns the registry holding the metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) RunStarted() {
	r.runsStarted.Inc()
	r.runsActive.Inc()
}

func (r *Recorder) RunFinished(result *models.Result) {
	r.runsActive.Dec()
	if result == nil {
		return
	}
	var (
		reason string
		rounds int
	)
	switch {
	case result.Failure != nil:
		reason = string(result.Failure.Reason)
		rounds = result.Failure.Counters.Round
	case result.Final != nil:
		rounds = result.Final.Counters.Round
	}
	r.runsFinished.WithLabelValues(string(result.State), reason).Inc()
	r.runRounds.Observe(float64(rounds))
}

func (r *Recorder) DecisionTaken(kind models.DecisionKind) {
	r.decisions.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) AgentInvoked(agent string, c models.Contribution, d time.Duration) {
	r.invocations.WithLabelValues(agent, string(c.Status), string(c.ErrorKind)).Inc()
	r.invokeDuration.WithLabelValues(agent).Observe(d.Seconds())
}

func (r *Recorder) EventDropped() {
	r.eventsDropped.Inc()
}
