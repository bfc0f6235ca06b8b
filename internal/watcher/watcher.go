// Package watcher keeps the media library in sync with an import folder.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/framecut/framecut-agent/internal/catalog"
	"github.com/framecut/framecut-agent/internal/logging"
	"github.com/framecut/framecut-agent/internal/metrics"
)

// DefaultDebounce delays imports until a file has stopped changing.
const DefaultDebounce = 500 * time.Millisecond

// Library is the part of the catalog the watcher drives.
type Library interface {
	AddMedia(ctx context.Context, path string) (*catalog.Media, error)
	RemoveMediaByPath(ctx context.Context, path string) error
	ImportFolder(ctx context.Context, dir string) (int, error)
}

// Watcher imports media dropped into a folder and forgets media removed
// from it. Only the top level of the folder is watched; the initial import
// walks subfolders too.
type Watcher struct {
	dir      string
	lib      Library
	logger   *slog.Logger
	debounce time.Duration
	fs       *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// New starts watching dir. Call Run to process events.
func New(dir string, lib Library, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch directory %s: %w", dir, err)
	}
	return &Watcher{
		dir:      dir,
		lib:      lib,
		logger:   logging.WithComponent(logger, "watcher"),
		debounce: DefaultDebounce,
		fs:       fsw,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// SetDebounce changes the settle delay. Zero imports on the first event.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run imports the folder's current contents and then handles events until
// ctx is cancelled. The underlying watcher is closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.shutdown()

	if _, err := w.lib.ImportFolder(ctx, w.dir); err != nil {
		w.logger.Warn("initial import failed", "dir", logging.SanitizePath(w.dir), "error", err)
	}
	w.logger.Info("watching import folder", "dir", logging.SanitizePath(w.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return fmt.Errorf("watcher channel closed")
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			w.logger.Warn("fsnotify watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if !catalog.IsMediaFile(ev.Name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancelPending(ev.Name)
		if err := w.lib.RemoveMediaByPath(ctx, ev.Name); err != nil {
			w.logger.Warn("failed to remove media", "path", logging.SanitizePath(ev.Name), "error", err)
			return
		}
		metrics.WatcherEventsTotal.WithLabelValues("remove").Inc()

	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		w.schedule(ctx, ev.Name)
	}
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	if w.debounce <= 0 {
		w.add(ctx, path)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.pending[path]; ok && prev.Stop() {
		w.wg.Done()
	}

	// A timer that already fired may still be waiting on mu; it sees it was
	// superseded and leaves the import to its replacement.
	var t *time.Timer
	w.wg.Add(1)
	t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		current := w.pending[path] == t
		if current {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if current {
			w.add(ctx, path)
		}
	})
	w.pending[path] = t
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		delete(w.pending, path)
		w.wg.Done()
	}
}

func (w *Watcher) add(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := w.lib.AddMedia(ctx, path); err != nil {
		w.logger.Warn("failed to import media", "path", logging.SanitizePath(path), "error", err)
		return
	}
	metrics.WatcherEventsTotal.WithLabelValues("add").Inc()
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
	_ = w.fs.Close()
}
