// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

// Stopper is implemented by servers.
type Stopper interface {
	Stop() error
}

// MustMkdirAll creates each directory along with any necessary parents.
func MustMkdirAll(t testing.TB, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("failed to create directory %s: %v", d, err)
		}
	}
}

// MustArchive creates a temporary directory holding one directory per
// slash-separated path, e.g. a CMIP5 DRS tree, and returns its root.
func MustArchive(t testing.TB, paths ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, p := range paths {
		MustMkdirAll(t, filepath.Join(root, filepath.FromSlash(p)))
	}
	return root
}

// MustWriteFiles writes each slash-separated path below root, creating
// parents. A file's content is its own path.
func MustWriteFiles(t testing.TB, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		MustMkdirAll(t, filepath.Dir(path))
		if err := os.WriteFile(path, []byte(f), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}
}

// MustClose closes c and fails the test on error.
func MustClose(t testing.TB, c io.Closer) {
	t.Helper()
	if err := c.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
}

// MustStop stops s. Shutdown errors during cleanup are only logged.
func MustStop(t testing.TB, s Stopper) {
	t.Helper()
	if err := s.Stop(); err != nil {
		t.Logf("warning: stop returned error: %v", err)
	}
}
