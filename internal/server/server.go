// Package server exposes orchestration runs over HTTP.
//
// Runs are submitted with POST /v1/runs and execute in the background. Their
// events can be followed as a server-sent event stream while the run is
// active on this server; finished runs are served from the state journal.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ShayCichocki/magentic/internal/orchestrator"
	"github.com/ShayCichocki/magentic/internal/state"
	"github.com/ShayCichocki/magentic/internal/version"
	"github.com/ShayCichocki/magentic/pkg/models"
)

// DefaultMaxRetained is how many finished runs are kept in memory.
const DefaultMaxRetained = 100

// Starter begins orchestration runs.
type Starter interface {
	Start(ctx context.Context, task models.Task) *orchestrator.Run
}

// Config holds the server configuration.
type Config struct {
	// MaxConcurrentRuns caps runs executing at once. Zero means 1.
	MaxConcurrentRuns int
	// MaxRetained caps finished runs kept in memory.
	MaxRetained int
	// Store is the run journal. Optional.
	Store state.StateStore
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server is the HTTP front end for an orchestrator.
type Server struct {
	starter atomic.Pointer[Starter]
	store   state.StateStore
	metrics http.Handler
	logger  *slog.Logger
	slots   *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	runs        map[string]*tracked
	finished    []string
	maxRetained int
	wg          sync.WaitGroup
}

// New creates a server that starts runs with starter.
func New(starter Starter, cfg Config) *Server {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = DefaultMaxRetained
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "server"),
		slots:       semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		ctx:         ctx,
		cancel:      cancel,
		runs:        make(map[string]*tracked),
		maxRetained: cfg.MaxRetained,
	}
	s.SetStarter(starter)
	return s
}

// SetStarter replaces the orchestrator used for new runs. Active runs keep
// the orchestrator they started with.
func (s *Server) SetStarter(starter Starter) {
	s.starter.Store(&starter)
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers the run API on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/runs", s.handleCreate)
	mux.HandleFunc("GET /v1/runs", s.handleList)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/runs/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /v1/runs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /_healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then cancels active
// runs and waits for them to record their outcome.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	// Event streams block Shutdown until their runs end, so cancel first.
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close cancels active runs and waits for them to finish.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// CreateRunRequest is the body of POST /v1/runs.
type CreateRunRequest struct {
	Statement string `json:"statement"`
	Criterion string `json:"criterion,omitempty"`
}

// RunResponse describes a run.
type RunResponse struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Statement string         `json:"statement"`
	State     models.State   `json:"state"`
	Round     int            `json:"round"`
	Active    bool           `json:"active"`
	StartedAt time.Time      `json:"started_at"`
	Result    *models.Result `json:"result,omitempty"`
	// Contributions is only set when a single run is requested.
	Contributions []models.Contribution `json:"contributions,omitempty"`
}

// ListResponse is the body of GET /v1/runs.
type ListResponse struct {
	Runs []RunResponse `json:"runs"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Statement == "" {
		writeError(w, http.StatusBadRequest, "statement is required")
		return
	}
	if s.ctx.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	if !s.slots.TryAcquire(1) {
		writeError(w, http.StatusTooManyRequests, "too many concurrent runs")
		return
	}

	starter := *s.starter.Load()
	run := starter.Start(s.ctx, models.Task{Statement: req.Statement, Criterion: req.Criterion})
	t := newTracked(run)

	s.mu.Lock()
	s.runs[run.ID] = t
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.slots.Release(1)
		t.pump()
		s.retire(run.ID)
	}()

	s.logger.Info("run submitted", "run_id", run.ID, "task_id", run.Task.ID)
	writeJSON(w, http.StatusAccepted, t.response(false))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	filterState := models.State(r.URL.Query().Get("state"))
	if filterState != "" && !filterState.Valid() {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}

	out := ListResponse{Runs: []RunResponse{}}
	seen := make(map[string]bool)

	s.mu.RLock()
	for _, t := range s.runs {
		resp := t.response(false)
		if filterState != "" && resp.State != filterState {
			continue
		}
		seen[resp.ID] = true
		out.Runs = append(out.Runs, resp)
	}
	s.mu.RUnlock()

	if s.store != nil {
		stored, err := s.store.ListRuns(state.ListFilter{State: filterState, Limit: limit})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, run := range stored {
			if !seen[run.ID] {
				out.Runs = append(out.Runs, fromStored(run))
			}
		}
	}

	sortRuns(out.Runs)
	if limit > 0 && len(out.Runs) > limit {
		out.Runs = out.Runs[:limit]
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if t := s.lookup(id); t != nil {
		writeJSON(w, http.StatusOK, t.response(true))
		return
	}
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	run, err := s.store.GetRun(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	resp := fromStored(*run)
	contributions, err := s.store.ListContributions(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Contributions = contributions
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t := s.lookup(id)
	if t == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if t.finished() {
		writeError(w, http.StatusConflict, "run already finished")
		return
	}
	t.run.Cancel()
	s.logger.Info("run cancel requested", "run_id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	active := 0
	for _, t := range s.runs {
		if !t.finished() {
			active++
		}
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     version.Get(),
		"active_runs": active,
	})
}

func (s *Server) lookup(id string) *tracked {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs[id]
}

// retire records a finished run and evicts the oldest ones past the limit.
func (s *Server) retire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, id)
	for len(s.finished) > s.maxRetained {
		delete(s.runs, s.finished[0])
		s.finished = s.finished[1:]
	}
}

func fromStored(run state.Run) RunResponse {
	return RunResponse{
		ID:        run.ID,
		TaskID:    run.TaskID,
		Statement: run.Statement,
		State:     run.State,
		Round:     run.Rounds,
		StartedAt: run.StartedAt,
		Result:    run.Result,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errStreamClosed is returned when a client leaves an event stream.
var errStreamClosed = errors.New("stream closed")
