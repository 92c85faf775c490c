// Package signals lets operators control running orchestrations by dropping
// files into .magentic/signals/: "pause" holds runs before their next round
// until the file is removed, and "stop" cancels them.
package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signal names a control file.
type Signal string

const (
	Stop  Signal = "stop"
	Pause Signal = "pause"
)

// Handler reacts to signals. *orchestrator.PauseController satisfies it.
type Handler interface {
	Pause()
	Resume()
	Stop()
}

// Dir returns the signals directory of a project.
func Dir(projectRoot string) string {
	return filepath.Join(projectRoot, ".magentic", "signals")
}

// Send creates the signal file.
func Send(projectRoot string, s Signal) error {
	dir := Dir(projectRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signals directory: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, string(s)), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes the signal file if present.
func Clear(projectRoot string, s Signal) error {
	err := os.Remove(filepath.Join(Dir(projectRoot), string(s)))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Watcher forwards signal file changes to a Handler.
type Watcher struct {
	dir     string
	handler Handler
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	paused  bool
	stopped bool
}

// NewWatcher watches the signals directory of projectRoot, creating it if
// needed. A stop file left over from an earlier process is removed so it
// does not cancel new runs.
func NewWatcher(projectRoot string, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := Dir(projectRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}
	if err := Clear(projectRoot, Stop); err != nil {
		return nil, fmt.Errorf("clear stale stop signal: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{dir: dir, handler: handler, logger: logger, watcher: fw}, nil
}

// Run dispatches signals until ctx ends or the watcher is closed. A pause
// file that already exists is applied immediately.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if _, err := os.Stat(filepath.Join(w.dir, string(Pause))); err == nil {
		w.setPaused(true)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("signal watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	created := event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
	removed := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)

	switch Signal(filepath.Base(event.Name)) {
	case Stop:
		if created {
			w.stop()
		}
	case Pause:
		if created {
			w.setPaused(true)
		} else if removed {
			w.setPaused(false)
		}
	}
}

func (w *Watcher) setPaused(paused bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused == paused || w.stopped {
		return
	}
	w.paused = paused
	if paused {
		w.logger.Info("pause signal received")
		w.handler.Pause()
	} else {
		w.logger.Info("pause signal cleared")
		w.handler.Resume()
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	w.logger.Info("stop signal received")
	w.handler.Stop()
}
