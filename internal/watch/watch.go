// Package watch reruns a task whenever files under its input roots change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"incr/internal/logging"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 500 * time.Millisecond

// Options configures a Watcher
type Options struct {
	Roots    []string      // Files or directories to watch
	Ignore   []string      // Paths whose events never trigger a run, e.g. the state directory
	Debounce time.Duration // Quiet period before a burst of events triggers a run
	Logger   *zap.Logger
}

// Watcher turns bursts of filesystem events into serial task invocations.
type Watcher struct {
	watcher    *fsnotify.Watcher
	roots      []string
	ignore     []string
	ignoreDirs map[string]bool
	debounce   time.Duration
	logger     *zap.Logger
}

// New creates a Watcher. Nothing is watched until Run is called.
func New(opts Options) (*Watcher, error) {
	if len(opts.Roots) == 0 {
		return nil, fmt.Errorf("nothing to watch")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	opts.Logger = logging.OrNop(opts.Logger)

	roots, err := absAll(opts.Roots)
	if err != nil {
		return nil, err
	}
	ignore, err := absAll(opts.Ignore)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	return &Watcher{
		watcher: watcher,
		roots:   roots,
		ignore:  ignore,
		ignoreDirs: map[string]bool{
			".git": true,
		},
		debounce: opts.Debounce,
		logger:   opts.Logger,
	}, nil
}

// Run calls fn once immediately and then once per burst of relevant events,
// until ctx is cancelled. Calls never overlap; events arriving during a call
// schedule the next one. Errors from fn are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context, fn func(context.Context) error) error {
	defer w.watcher.Close()

	for _, root := range w.roots {
		if err := w.addRoot(root); err != nil {
			return err
		}
	}

	w.invoke(ctx, fn)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.handleFSEvent(event) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
		case <-timer.C:
			w.invoke(ctx, fn)
		}
	}
}

func (w *Watcher) invoke(ctx context.Context, fn func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	if err := fn(ctx); err != nil {
		w.logger.Warn("triggered run failed", zap.Error(err))
	}
}

// addRoot watches a directory root recursively. A file root is watched
// through its parent directory; a missing root is skipped.
func (w *Watcher) addRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			w.logger.Warn("watch root does not exist", zap.String("path", root))
			return nil
		}
		return fmt.Errorf("accessing %s: %w", root, err)
	}

	if !info.IsDir() {
		if err := w.watcher.Add(filepath.Dir(root)); err != nil {
			return fmt.Errorf("watching %s: %w", root, err)
		}
		return nil
	}
	return w.addDir(root)
}

func (w *Watcher) addDir(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("adding directory to watcher: %w", err)
		}
		return nil
	})
}

// handleFSEvent reports whether event should schedule a run.
func (w *Watcher) handleFSEvent(event fsnotify.Event) bool {
	if !w.relevant(event.Name) || w.shouldIgnore(event.Name) {
		return false
	}

	switch {
	case event.Op.Has(fsnotify.Create):
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if err := w.addDir(event.Name); err != nil {
				w.logger.Error("adding new directory to watcher", zap.Error(err))
			}
		}
	case event.Op.Has(fsnotify.Write), event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
	default:
		// Chmod alone never changes a fingerprint.
		return false
	}

	w.logger.Debug("change detected", zap.String("path", event.Name), zap.Stringer("op", event.Op))
	return true
}

// relevant reports whether path lies under one of the roots. Parents of file
// roots are watched too, so their other entries must be filtered out.
func (w *Watcher) relevant(path string) bool {
	for _, root := range w.roots {
		if within(path, root) {
			return true
		}
	}
	return false
}

func (w *Watcher) shouldIgnore(path string) bool {
	for _, ig := range w.ignore {
		if within(path, ig) {
			return true
		}
	}
	return w.ignoreDirs[filepath.Base(path)]
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

func absAll(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		out = append(out, abs)
	}
	return out, nil
}
