package document

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// RenderFunc receives the results of each re-render.
type RenderFunc func(results []Result, err error)

// Watcher re-executes a page whenever it changes on disk and writes the
// rendered result to an output file.
// It watches the page's directory rather than the file so editors that save
// by rename keep triggering.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	runtime     *Runtime
	pagePath    string
	outputPath  string
	onRender    RenderFunc
	logger      *zap.Logger
	pending     time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity.
type WatcherStats struct {
	Events     int
	Renders    int
	Errors     int
	LastRender time.Time
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the page must be quiet before re-rendering.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounceDur = d }
}

// WithRenderFunc registers a callback run after each render.
func WithRenderFunc(fn RenderFunc) WatcherOption {
	return func(w *Watcher) { w.onRender = fn }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a watcher for pagePath rendering into outputPath.
func NewWatcher(rt *Runtime, pagePath, outputPath string, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	absPage, err := filepath.Abs(pagePath)
	if err != nil {
		fw.Close()
		return nil, err
	}
	absOut, err := filepath.Abs(outputPath)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if absPage == absOut {
		fw.Close()
		return nil, fmt.Errorf("output path must differ from the watched page: %s", pagePath)
	}

	w := &Watcher{
		watcher:     fw,
		runtime:     rt,
		pagePath:    absPage,
		outputPath:  absOut,
		logger:      zap.NewNop(),
		debounceDur: 300 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start renders the page once, then watches it in the background.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.pagePath)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", w.pagePath, err)
	}
	w.logger.Info("Watching page", zap.String("page", w.pagePath), zap.String("output", w.outputPath))

	w.render(ctx)
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Error("Error closing watcher", zap.Error(err))
	}
	w.logger.Info("Watcher stopped")
}

// Stats returns a snapshot of the watcher counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounceDur
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if due {
				w.render(ctx)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.pagePath {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	w.logger.Debug("Page changed", zap.String("op", event.Op.String()))

	w.mu.Lock()
	w.stats.Events++
	w.pending = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) render(ctx context.Context) {
	results, err := w.renderOnce(ctx)

	w.mu.Lock()
	if err != nil {
		w.stats.Errors++
	} else {
		w.stats.Renders++
		w.stats.LastRender = time.Now()
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("Render failed", zap.Error(err))
	}
	if w.onRender != nil {
		w.onRender(results, err)
	}
}

func (w *Watcher) renderOnce(ctx context.Context) ([]Result, error) {
	doc, err := LoadFile(w.pagePath)
	if err != nil {
		// Mid-save the page may briefly be missing.
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	results, err := w.runtime.ExecuteAll(ctx, doc)
	if err != nil {
		return results, err
	}

	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return results, fmt.Errorf("failed to render page: %w", err)
	}
	if err := os.WriteFile(w.outputPath, buf.Bytes(), 0644); err != nil {
		return results, fmt.Errorf("failed to write output: %w", err)
	}
	return results, nil
}
