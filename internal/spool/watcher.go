// Package spool watches a directory for task collection files and
// hands each one off as its own run. Processed files are renamed in
// place: .done after a successful run, .failed after a failed one,
// which also takes them out of the watch pattern.
package spool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/taskferry/taskferry/internal/logging"
)

const (
	doneSuffix   = ".done"
	failedSuffix = ".failed"
)

// DefaultDebounce is how long the watcher waits after the last
// filesystem event before submitting, giving producers time to finish
// writing a collection file.
const DefaultDebounce = 500 * time.Millisecond

// RunFunc submits one collection file and reports whether the run
// succeeded. The spool does not interpret the file itself.
type RunFunc func(ctx context.Context, path string) error

// Watcher picks up collection files from a spool directory.
type Watcher struct {
	dir      string
	pattern  glob.Glob
	run      RunFunc
	log      *logging.Logger
	debounce time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for watcher events.
func WithLogger(log *logging.Logger) Option {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// WithDebounce overrides the event settle delay.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a spool watcher over dir for file names matching pattern.
func New(dir, pattern string, run RunFunc, opts ...Option) (*Watcher, error) {
	if dir == "" {
		return nil, errors.New("spool dir is required")
	}
	if run == nil {
		return nil, errors.New("run function is required")
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling spool pattern %q: %w", pattern, err)
	}

	w := &Watcher{
		dir:      dir,
		pattern:  g,
		run:      run,
		log:      logging.NopLogger(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches the spool directory until ctx is canceled. Files already
// in the directory are picked up first, in name order.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Register the watch before the initial scan so files dropped in
	// between still produce an event. A second pickup of the same file
	// is harmless: the rename after the first run makes it vanish.
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	log := w.log.WithComponent("spool")
	log.Info("watching spool directory", "dir", w.dir)

	if err := w.scan(ctx, log); err != nil {
		return err
	}

	debounce := time.NewTimer(0)
	<-debounce.C // drain initial timer

	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.pattern.Match(filepath.Base(event.Name)) {
				continue
			}

			pending[event.Name] = struct{}{}
			debounce.Reset(w.debounce)

		case <-debounce.C:
			paths := make([]string, 0, len(pending))
			for path := range pending {
				paths = append(paths, path)
			}
			clear(pending)
			sort.Strings(paths)

			for _, path := range paths {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.process(ctx, log, path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "error", err)
		}
	}
}

// scan picks up collection files already sitting in the spool.
func (w *Watcher) scan(ctx context.Context, log *logging.Logger) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", w.dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !w.pattern.Match(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(w.dir, entry.Name()))
	}
	sort.Strings(paths)

	for _, path := range paths {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.process(ctx, log, path)
	}
	return nil
}

// process runs a single spooled file and renames it out of the way.
func (w *Watcher) process(ctx context.Context, log *logging.Logger, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		// Already claimed by an earlier pickup, or not a file
		return
	}

	log = log.With("file", filepath.Base(path))
	log.Info("collection picked up")

	if err := w.run(ctx, path); err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a bad collection. Leave the file for the
			// next start.
			return
		}
		log.Error("collection run failed", "error", err)
		w.finish(log, path, failedSuffix)
		return
	}

	log.Info("collection run complete")
	w.finish(log, path, doneSuffix)
}

func (w *Watcher) finish(log *logging.Logger, path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		log.Warn("could not rename spooled file", "error", err)
	}
}
