package models

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounceDelay is how long after the last filesystem event a rescan
// is triggered. Downloads write continuously, so reacting to every
// event would rescan hundreds of times per file.
const debounceDelay = 500 * time.Millisecond

// Watcher observes the models directory and triggers a Manager rescan
// when model files appear, change, or disappear outside the manager's
// own downloads.
type Watcher struct {
	dir     string
	manager *Manager
	log     zerolog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending *time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates the models directory if needed and sets up the
// filesystem watch on it.
func NewWatcher(dir string, manager *Manager, log zerolog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating models dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	return &Watcher{
		dir:     dir,
		manager: manager,
		log:     log.With().Str("component", "models_watcher").Logger(),
		fsw:     fsw,
		done:    make(chan struct{}),
	}, nil
}

// Start begins processing filesystem events.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
	w.log.Info().Str("dir", w.dir).Msg("watching models directory")
}

// Stop halts event processing and releases the filesystem watch.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
	w.fsw.Close()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.scheduleRescan(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("watcher error")
		}
	}
}

// relevant filters out events that cannot change a model's status:
// temp files written by in-flight downloads and pure chmod events.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if strings.HasSuffix(ev.Name, fetchTempSuffix) {
		return false
	}
	if filepath.Ext(ev.Name) != ".bin" {
		return false
	}
	return ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) ||
		ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename)
}

// scheduleRescan coalesces bursts of events into a single rescan that
// runs debounceDelay after the last one.
func (w *Watcher) scheduleRescan(ev fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.log.Debug().Str("file", filepath.Base(ev.Name)).Str("op", ev.Op.String()).Msg("models dir changed")
	if w.pending != nil {
		w.pending.Reset(debounceDelay)
		return
	}
	w.pending = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		w.pending = nil
		w.mu.Unlock()
		w.manager.Rescan()
	})
}
