// SPDX-License-Identifier: MPL-2.0

package datafinder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 2 * time.Second

// hiddenIgnores are always applied. Scan skips the same entries.
var hiddenIgnores = []string{
	".*",
	".*/**",
	"**/.*",
	"**/.*/**",
}

type (
	// WatchOptions configures Finder.Watch.
	WatchOptions struct {
		// Debounce is the quiet period after the last event before the tree
		// is rescanned. Zero or negative means two seconds.
		Debounce time.Duration
		// Ignore holds doublestar patterns, relative to the archive root, of
		// paths whose events never trigger a rescan.
		Ignore []string
		// OnRefresh runs after each successful rescan with the changed paths.
		OnRefresh func(ctx context.Context, changed []string)
	}

	// archiveWatcher registers every directory from the archive root down to
	// the level above variable. Deeper directories hold files only.
	archiveWatcher struct {
		finder   *Finder
		fsw      *fsnotify.Watcher
		baseDir  string
		maxDepth int
		ignores  []string
		debounce time.Duration
		started  atomic.Bool
	}
)

// Watch rescans the archive whenever its directory structure changes, until
// ctx is cancelled. Events are coalesced over the debounce window, and a
// rescan still in progress defers the next one. Watch returns nil on
// cancellation and an error when the watcher breaks.
func (f *Finder) Watch(ctx context.Context, opts WatchOptions) error {
	if f.opts.ArchiveRoot == "" {
		return errors.New("watch: no archive root configured")
	}
	w, err := newArchiveWatcher(f, opts)
	if err != nil {
		return err
	}
	return w.run(ctx, opts.OnRefresh)
}

func newArchiveWatcher(f *Finder, opts WatchOptions) (*archiveWatcher, error) {
	for _, pat := range opts.Ignore {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("watch: invalid ignore pattern %q", pat)
		}
	}

	absBase, err := filepath.Abs(f.opts.ArchiveRoot)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve archive root: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	ignores := make([]string, 0, len(hiddenIgnores)+len(opts.Ignore))
	ignores = append(ignores, hiddenIgnores...)
	ignores = append(ignores, opts.Ignore...)

	w := &archiveWatcher{
		finder:   f,
		fsw:      fsw,
		baseDir:  absBase,
		maxDepth: f.opts.Levels.leafParent() + 1,
		ignores:  ignores,
		debounce: debounce,
	}

	if err := w.addTree(absBase); err != nil {
		if closeErr := fsw.Close(); closeErr != nil {
			f.logger.Warn("close watcher after init failure", "error", closeErr)
		}
		return nil, err
	}
	return w, nil
}

func (w *archiveWatcher) run(ctx context.Context, onRefresh func(context.Context, []string)) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: run called more than once")
	}
	logger := w.finder.logger

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			logger.Debug("rescan in progress, deferring")
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := make([]string, 0, len(pending))
		for p := range pending {
			changed = append(changed, p)
		}
		clear(pending)
		mu.Unlock()

		logger.Info("archive changed, rescanning", "paths", len(changed))
		if err := w.finder.Refresh(ctx); err != nil {
			logger.Error("rescan failed", "error", err)
			return
		}
		if onRefresh != nil {
			onRefresh(ctx, changed)
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			logger.Warn("close fsnotify", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}

			rel, err := filepath.Rel(w.baseDir, evt.Name)
			if err != nil {
				rel = evt.Name
			}
			if w.isIgnored(rel) {
				continue
			}

			if evt.Has(fsnotify.Create) {
				w.maybeAddTree(evt.Name)
			}

			mu.Lock()
			pending[filepath.ToSlash(rel)] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			logger.Warn("fsnotify error", "error", err)
		}
	}
}

// addTree registers root and its subdirectories down to maxDepth.
func (w *archiveWatcher) addTree(root string) error {
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkDirErr error) error {
		if walkDirErr != nil {
			w.finder.logger.Warn("skipping inaccessible path", "path", path, "error", walkDirErr)
			return nil //nolint:nilerr // inaccessible subtrees are not watched
		}
		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(w.baseDir, path)
		if relErr != nil {
			return nil //nolint:nilerr // not below the archive root
		}
		if rel != "." && w.isIgnored(rel) {
			return filepath.SkipDir
		}

		depth := w.depth(rel)
		if depth > w.maxDepth {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, addErr)
		}
		if depth == w.maxDepth {
			return filepath.SkipDir
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("watch: walk archive: %w", walkErr)
	}
	return nil
}

// maybeAddTree extends the watch to a directory created after startup,
// including anything already created inside it.
func (w *archiveWatcher) maybeAddTree(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addTree(path); err != nil {
		w.finder.logger.Warn("failed to watch new directory", "path", path, "error", err)
	}
}

// depth is the number of path segments of rel; the archive root is 0.
func (w *archiveWatcher) depth(rel string) int {
	if rel == "." || rel == "" {
		return 0
	}
	return strings.Count(filepath.ToSlash(rel), "/") + 1
}

func (w *archiveWatcher) isIgnored(rel string) bool {
	normalized := filepath.ToSlash(rel)
	for _, pat := range w.ignores {
		if matched, matchErr := doublestar.Match(pat, normalized); matchErr == nil && matched {
			return true
		}
	}
	return false
}
