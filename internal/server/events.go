package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/ShayCichocki/magentic/internal/orchestrator"
	"github.com/ShayCichocki/magentic/pkg/models"
)

// tracked is a run executing (or recently finished) on this server. It
// drains the run's event channel and keeps the history so any number of
// stream clients can replay it from the start.
type tracked struct {
	run *orchestrator.Run

	mu     sync.Mutex
	events []orchestrator.Event
	state  models.State
	round  int
	result *models.Result
	done   bool
	// notify is closed and replaced whenever the history grows.
	notify chan struct{}
}

func newTracked(run *orchestrator.Run) *tracked {
	return &tracked{
		run:    run,
		state:  models.StatePlanning,
		notify: make(chan struct{}),
	}
}

// pump drains the run's events until the run finishes.
func (t *tracked) pump() {
	for ev := range t.run.Events() {
		t.mu.Lock()
		t.events = append(t.events, ev)
		if ev.State != "" {
			t.state = ev.State
		}
		t.round = ev.Round
		if ev.Result != nil {
			t.result = ev.Result
		}
		close(t.notify)
		t.notify = make(chan struct{})
		t.mu.Unlock()
	}

	result, _ := t.run.Wait()
	t.mu.Lock()
	if result != nil {
		t.result = result
		t.state = result.State
	}
	t.done = true
	close(t.notify)
	t.notify = make(chan struct{})
	t.mu.Unlock()
}

func (t *tracked) finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// since returns events after index from, a channel closed on the next
// append, and whether the history is complete.
func (t *tracked) since(from int) ([]orchestrator.Event, <-chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []orchestrator.Event
	if from < len(t.events) {
		out = append(out, t.events[from:]...)
	}
	return out, t.notify, t.done
}

func (t *tracked) response(withContributions bool) RunResponse {
	t.mu.Lock()
	resp := RunResponse{
		ID:        t.run.ID,
		TaskID:    t.run.Task.ID,
		Statement: t.run.Task.Statement,
		State:     t.state,
		Round:     t.round,
		Active:    !t.done,
		StartedAt: t.run.Task.CreatedAt,
		Result:    t.result,
	}
	t.mu.Unlock()
	if withContributions {
		resp.Contributions = t.run.Contributions()
	}
	return resp
}

// handleEvents streams a run's events as server-sent events. The stream
// replays history first and ends after run_finished.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	t := s.lookup(r.PathValue("id"))
	if t == nil {
		writeError(w, http.StatusNotFound, "run is not active on this server")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	next := 0
	for {
		events, notify, done := t.since(next)
		for _, ev := range events {
			if err := writeEvent(w, ev); err != nil {
				s.logger.Debug("event stream write failed", "run_id", t.run.ID, "error", err)
				return
			}
		}
		next += len(events)
		flusher.Flush()
		if done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-notify:
		}
	}
}

func writeEvent(w http.ResponseWriter, ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data); err != nil {
		return errStreamClosed
	}
	return nil
}

// sortRuns orders runs newest first.
func sortRuns(runs []RunResponse) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}
