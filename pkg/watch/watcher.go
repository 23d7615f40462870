// Package watch rebuilds when the build context changes.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moby/patternmatcher"

	"github.com/layerctl/layerctl/pkg/logging"
)

// Watcher monitors a build context tree and triggers a rebuild.
type Watcher struct {
	root     string
	matcher  *patternmatcher.PatternMatcher
	files    map[string]bool
	onChange func() error
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for the context at root. Paths matching
// excludes (.dockerignore syntax) never trigger a rebuild.
func NewWatcher(root string, excludes []string, onChange func() error) (*Watcher, error) {
	pm, err := patternmatcher.New(excludes)
	if err != nil {
		return nil, fmt.Errorf("parsing exclude patterns: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:     abs,
		matcher:  pm,
		files:    make(map[string]bool),
		onChange: onChange,
		logger:   logging.NewDiscardLogger(),
		debounce: 300 * time.Millisecond,
	}, nil
}

// SetLogger sets the logger for watcher events.
func (w *Watcher) SetLogger(logger *slog.Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// SetDebounce sets the debounce duration for file changes.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// AddFile also watches a single file outside the context, such as the recipe.
func (w *Watcher) AddFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.files[abs] = true
	return nil
}

// Watch blocks until ctx is cancelled, calling onChange once per burst of
// changes. Directories are watched rather than files so editors' atomic
// rename-over saves are seen.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addTree(watcher, w.root); err != nil {
		return err
	}
	for f := range w.files {
		if err := watcher.Add(filepath.Dir(f)); err != nil {
			return err
		}
	}

	w.logger.Info("watching for changes", "path", w.root)

	var debounceTimer *time.Timer
	var debounceChan <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping watcher")
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod || !w.relevant(event.Name) {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(watcher, event.Name); err != nil {
						w.logger.Warn("watching new directory", "path", event.Name, "error", err)
					}
				}
			}

			w.logger.Debug("change", "path", event.Name, "event", event.Op.String())
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.debounce)
			debounceChan = debounceTimer.C

		case <-debounceChan:
			w.logger.Info("change detected, rebuilding")
			if err := w.onChange(); err != nil {
				w.logger.Error("rebuild failed", "error", err)
			}
			debounceChan = nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// relevant reports whether a change at path belongs to the context or to an
// extra watched file.
func (w *Watcher) relevant(path string) bool {
	if w.files[path] {
		return true
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return false
	}
	excluded, err := w.matcher.MatchesOrParentMatches(filepath.ToSlash(rel))
	return err == nil && !excluded
}

// addTree watches dir and every non-excluded directory below it.
func (w *Watcher) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && !w.relevant(path) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
