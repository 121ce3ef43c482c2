// SPDX-License-Identifier: MPL-2.0

package datafinder

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/c3s-magic/magicwps/internal/testutil"

	"golang.org/x/exp/slices"
)

func TestWatch_RescansOnNewDirectories(t *testing.T) {
	t.Parallel()

	root := testutil.MustArchive(t, archive...)
	f := newFinder(t, Options{ArchiveRoot: root})

	var (
		mu      sync.Mutex
		changed []string
	)
	refreshed := make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.Watch(ctx, WatchOptions{
			Debounce: 100 * time.Millisecond,
			OnRefresh: func(_ context.Context, paths []string) {
				mu.Lock()
				changed = append(changed, paths...)
				mu.Unlock()
				select {
				case refreshed <- struct{}{}:
				default:
				}
			},
		})
	}()

	// Let the watcher register its directories.
	time.Sleep(100 * time.Millisecond)

	// A new variable directory below an existing version.
	newVar := filepath.Join(root, "CSIRO-BOM/ACCESS1-0/historical/mon/atmos/Amon/r1i1p1/v1/pr")
	if err := os.Mkdir(newVar, 0o755); err != nil {
		t.Fatal(err)
	}

	select {
	case <-refreshed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for rescan")
	}

	facets := f.ModelExperimentEnsemble([]string{"pr", "tas"}, "mon")
	if !facets.Contains(Triple{"ACCESS1-0", "historical", "r1i1p1"}) {
		t.Errorf("rescan should expose ACCESS1-0 pr+tas, got %+v", facets.Triples)
	}

	mu.Lock()
	if !slices.Contains(changed, "CSIRO-BOM/ACCESS1-0/historical/mon/atmos/Amon/r1i1p1/v1/pr") {
		t.Errorf("changed paths = %v", changed)
	}
	mu.Unlock()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Watch() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}

func TestWatch_IgnoresHiddenAndIgnoredPaths(t *testing.T) {
	t.Parallel()

	root := testutil.MustArchive(t, archive...)
	f := newFinder(t, Options{ArchiveRoot: root})

	refreshed := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.Watch(ctx, WatchOptions{
			Debounce: 50 * time.Millisecond,
			Ignore:   []string{"**/*.tmp"},
			OnRefresh: func(context.Context, []string) {
				refreshed <- struct{}{}
			},
		})
	}()
	time.Sleep(100 * time.Millisecond)

	if err := os.Mkdir(filepath.Join(root, ".staging"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "MPI-M", "upload.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-refreshed:
		t.Error("ignored paths should not trigger a rescan")
	case <-time.After(400 * time.Millisecond):
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
}

func TestWatch_Errors(t *testing.T) {
	t.Parallel()

	empty := newFinder(t, Options{})
	if err := empty.Watch(context.Background(), WatchOptions{}); err == nil {
		t.Error("expected error without archive root")
	}

	f := newFinder(t, Options{ArchiveRoot: testutil.MustArchive(t, archive...)})
	if err := f.Watch(context.Background(), WatchOptions{Ignore: []string{"[unclosed"}}); err == nil {
		t.Error("expected error for invalid ignore pattern")
	}
}

func TestArchiveWatcher_Depth(t *testing.T) {
	t.Parallel()

	w := &archiveWatcher{}
	tests := []struct {
		rel  string
		want int
	}{
		{".", 0},
		{"MPI-M", 1},
		{"MPI-M/MPI-ESM-MR", 2},
		{filepath.Join("a", "b", "c"), 3},
	}
	for _, tt := range tests {
		if got := w.depth(tt.rel); got != tt.want {
			t.Errorf("depth(%q) = %d, want %d", tt.rel, got, tt.want)
		}
	}
}
