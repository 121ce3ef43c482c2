// SPDX-License-Identifier: MPL-2.0

package datafinder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/exp/slices"
)

type (
	// Options configures a Finder.
	Options struct {
		// ArchiveRoot is the directory holding the first DRS level. Empty
		// yields a finder without data.
		ArchiveRoot string
		// Levels is the directory layout. Nil means DefaultLevels.
		Levels Levels
		// CacheFile persists the scanned tree between runs when set.
		CacheFile string
		// Logger defaults to the "datafinder" prefixed default logger.
		Logger *log.Logger
	}

	// Finder holds the scanned tree of one archive. It is safe for
	// concurrent use; Refresh swaps the tree under a write lock.
	Finder struct {
		opts   Options
		logger *log.Logger

		mu        sync.RWMutex
		tree      *Node
		scannedAt time.Time
	}

	cacheFile struct {
		ArchiveRoot string    `json:"archive_root"`
		Levels      Levels    `json:"levels"`
		ScannedAt   time.Time `json:"scanned_at"`
		Tree        *Node     `json:"tree"`
	}
)

var (
	sharedMu     sync.Mutex
	sharedFinder *Finder
)

// New builds a Finder. A valid cache for the same root and layout is used
// instead of scanning; otherwise the archive is scanned and the cache
// rewritten.
func New(ctx context.Context, opts Options) (*Finder, error) {
	if opts.Levels == nil {
		opts.Levels = DefaultLevels()
	}
	if err := opts.Levels.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("datafinder")
	}

	f := &Finder{opts: opts, logger: logger, tree: &Node{Name: RootName}}
	if opts.ArchiveRoot == "" {
		logger.Warn("no archive root configured, data queries will be empty")
		return f, nil
	}

	if opts.CacheFile != "" {
		cached, err := f.readCache()
		switch {
		case err == nil:
			f.tree = cached.Tree
			f.scannedAt = cached.ScannedAt
			logger.Info("loaded data cache", "file", opts.CacheFile, "nodes", cached.Tree.Count(), "scanned_at", cached.ScannedAt)
			return f, nil
		case errors.Is(err, os.ErrNotExist):
			logger.Debug("no data cache yet", "file", opts.CacheFile)
		default:
			logger.Warn("ignoring data cache", "file", opts.CacheFile, "error", err)
		}
	}

	if err := f.Refresh(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Shared returns the process-wide Finder, building it on first use with
// opts. Once built, later calls ignore opts. A failed build is not kept,
// so the next call tries again.
func Shared(ctx context.Context, opts Options) (*Finder, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedFinder != nil {
		return sharedFinder, nil
	}
	f, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}
	sharedFinder = f
	return f, nil
}

// Refresh rescans the archive, swaps the tree in and rewrites the cache.
// Readers keep seeing the old tree until the scan completes.
func (f *Finder) Refresh(ctx context.Context) error {
	if f.opts.ArchiveRoot == "" {
		return nil
	}

	start := time.Now()
	tree, err := Scan(ctx, f.opts.ArchiveRoot, f.opts.Levels)
	if err != nil {
		return fmt.Errorf("refresh data tree: %w", err)
	}

	f.mu.Lock()
	f.tree = tree
	f.scannedAt = start
	f.mu.Unlock()

	f.logger.Info("scanned archive", "root", f.opts.ArchiveRoot, "nodes", tree.Count(), "elapsed", time.Since(start).Round(time.Millisecond))

	if f.opts.CacheFile != "" {
		if err := f.writeCache(tree, start); err != nil {
			f.logger.Warn("failed to write data cache", "file", f.opts.CacheFile, "error", err)
		}
	}
	return nil
}

// ArchiveRoot returns the configured archive root.
func (f *Finder) ArchiveRoot() string {
	return f.opts.ArchiveRoot
}

// Levels returns a copy of the directory layout.
func (f *Finder) Levels() Levels {
	return slices.Clone(f.opts.Levels)
}

// ScannedAt returns when the current tree was scanned. The zero time means
// the finder has no data.
func (f *Finder) ScannedAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.scannedAt
}

// Empty reports whether the tree has no entries below the root.
func (f *Finder) Empty() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.tree.Children) == 0
}

// Tree returns a deep copy of the full tree.
func (f *Finder) Tree() *Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tree.Clone()
}

// PrunedTree returns a copy of the tree restricted to branches that hold all
// of vars at frequency freq, with the variable leaves removed. An empty freq
// matches every frequency.
func (f *Finder) PrunedTree(vars []string, freq string) *Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return newQuery(f.tree, f.opts.Levels, vars, freq).prune(f.tree)
}

// ModelExperimentEnsemble returns the combinations that hold all of vars at
// frequency freq.
func (f *Finder) ModelExperimentEnsemble(vars []string, freq string) Facets {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return newQuery(f.tree, f.opts.Levels, vars, freq).facets()
}

// WriteJSON writes the tree as indented JSON.
func WriteJSON(w io.Writer, n *Node) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(n)
}

func (f *Finder) readCache() (*cacheFile, error) {
	data, err := os.ReadFile(f.opts.CacheFile)
	if err != nil {
		return nil, err
	}

	var c cacheFile
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode cache: %w", err)
	}
	if c.Tree == nil {
		return nil, errors.New("cache has no tree")
	}
	if filepath.Clean(c.ArchiveRoot) != filepath.Clean(f.opts.ArchiveRoot) {
		return nil, fmt.Errorf("cache is for archive %q", c.ArchiveRoot)
	}
	if !slices.Equal(c.Levels, f.opts.Levels) {
		return nil, fmt.Errorf("cache layout %v differs from %v", c.Levels, f.opts.Levels)
	}
	return &c, nil
}

// writeCache replaces the cache file atomically via a rename from a
// temporary file in the same directory.
func (f *Finder) writeCache(tree *Node, scannedAt time.Time) (err error) {
	dir := filepath.Dir(f.opts.CacheFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".datafinder-*.json")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name()) // best-effort cleanup
		}
	}()

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(cacheFile{
		ArchiveRoot: f.opts.ArchiveRoot,
		Levels:      f.opts.Levels,
		ScannedAt:   scannedAt,
		Tree:        tree,
	}); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.opts.CacheFile)
}
