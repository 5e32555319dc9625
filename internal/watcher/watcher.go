// Package watcher turns filesystem events into debounced incremental
// index triggers.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a trigger fires.
const DefaultDebounce = 2 * time.Second

// TriggerFunc is called once per settled burst of filesystem changes.
type TriggerFunc func(ctx context.Context)

// Watcher watches directory trees and fires a debounced trigger.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	trigger  TriggerFunc

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// New creates a watcher. trigger runs on a timer goroutine after events
// settle for the debounce period.
func New(debounce time.Duration, trigger TriggerFunc) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:      fsw,
		debounce: debounce,
		trigger:  trigger,
	}, nil
}

// Add registers a directory tree for watching. Hidden directories are
// skipped, matching the scanner's view of the corpus.
func (w *Watcher) Add(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtrees are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			slog.Warn("watch_add_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})
}

// Run processes events until ctx is done. New directories are added to
// the watch set as they appear.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				// A new directory needs its own watch.
				_ = w.Add(event.Name)
			}
			w.bump(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

// bump resets the debounce timer; the trigger fires after quiet.
func (w *Watcher) bump(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.trigger(ctx)
	})
}

// Close stops the watcher and any pending trigger.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
