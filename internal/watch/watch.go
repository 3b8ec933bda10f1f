// Package watch converts screenshot series as they appear in a directory.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shuncox/rednote-pic2md/internal/series"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultDebounce is how long a series must stay quiet before it is converted
	DefaultDebounce = 2 * time.Second

	addTimeout = 5 * time.Second
)

// Handler converts the series that path belongs to
type Handler func(ctx context.Context, path string) error

// Options configure a Watcher
type Options struct {
	Pattern  series.Pattern
	Debounce time.Duration
	Logger   *logrus.Logger
}

// Watcher batches file events per series and calls the handler once the
// series has been quiet for the debounce period. Handlers run one at a time.
type Watcher struct {
	dir      string
	handler  Handler
	pattern  series.Pattern
	debounce time.Duration
	logger   *logrus.Logger

	mu      sync.Mutex
	pending map[string]string
	timers  map[string]*time.Timer
	ready   chan string
}

// New creates a watcher for dir
func New(dir string, handler Handler, opts Options) *Watcher {
	if opts.Pattern.Suffix == "" {
		opts.Pattern = series.DefaultPattern
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Watcher{
		dir:      dir,
		handler:  handler,
		pattern:  opts.Pattern,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		pending:  make(map[string]string),
		timers:   make(map[string]*time.Timer),
		ready:    make(chan string, 16),
	}
}

// Run watches until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil {
			w.logger.WithError(closeErr).Warn("Failed to close file watcher")
		}
		w.stopTimers()
	}()

	done := make(chan error, 1)
	go func() {
		done <- watcher.Add(w.dir)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", w.dir, err)
		}
	case <-time.After(addTimeout):
		return fmt.Errorf("timeout adding %s to watcher", w.dir)
	}

	w.logger.WithFields(logrus.Fields{
		"dir":      w.dir,
		"debounce": w.debounce,
	}).Info("Watching for screenshots")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Rename reports the old name; the new one arrives as Create
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.observe(ctx, event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("Screenshot watcher error")
		case key := <-w.ready:
			w.fire(ctx, key)
		}
	}
}

// observe schedules the series path belongs to, restarting its quiet period
func (w *Watcher) observe(ctx context.Context, path string) {
	f, err := w.pattern.Parse(filepath.Base(path))
	if err != nil {
		w.logger.WithField("file", filepath.Base(path)).Debug("Ignoring file that is not a screenshot")
		return
	}
	key := f.Key()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[key] = path
	if t, ok := w.timers[key]; ok {
		t.Stop()
	}
	w.timers[key] = time.AfterFunc(w.debounce, func() {
		select {
		case w.ready <- key:
		case <-ctx.Done():
		}
	})
}

// fire hands the latest path of a quiet series to the handler
func (w *Watcher) fire(ctx context.Context, key string) {
	w.mu.Lock()
	path, ok := w.pending[key]
	delete(w.pending, key)
	delete(w.timers, key)
	w.mu.Unlock()

	if !ok {
		return
	}

	w.logger.WithField("file", filepath.Base(path)).Info("Series is quiet, converting")
	if err := w.handler(ctx, path); err != nil {
		w.logger.WithError(err).WithField("file", filepath.Base(path)).Error("Conversion of watched series failed")
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, t := range w.timers {
		t.Stop()
		delete(w.timers, key)
	}
}
