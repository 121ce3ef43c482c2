// SPDX-License-Identifier: MPL-2.0

package datafinder

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Scan builds the directory tree below root.
//
// Every level in levels is one directory depth. Variable directories are
// recorded but not descended into. Hidden entries and regular files are
// skipped; symlinks to directories are followed. The subtrees of the
// top-level entries are scanned concurrently.
func Scan(ctx context.Context, root string, levels Levels) (*Node, error) {
	if err := levels.Validate(); err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}

	top, err := listDirs(root)
	if err != nil {
		return nil, err
	}

	if len(top) == 0 {
		return &Node{Name: RootName}, nil
	}
	tree := &Node{Name: RootName, Children: make([]*Node, len(top))}

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range top {
		g.Go(func() error {
			child, err := scanDir(gctx, filepath.Join(root, name), name, 0, len(levels)-1)
			if err != nil {
				return err
			}
			tree.Children[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return tree, nil
}

// scanDir returns the node for path, which sits at level depth.
func scanDir(ctx context.Context, path, name string, depth, last int) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	node := &Node{Name: name}
	if depth == last {
		return node, nil
	}

	names, err := listDirs(path)
	if err != nil {
		return nil, err
	}
	for _, child := range names {
		c, err := scanDir(ctx, filepath.Join(path, child), child, depth+1, last)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, c)
	}
	return node, nil
}

// listDirs returns the sorted names of the visible subdirectories of path.
func listDirs(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !isDir(path, e) {
			continue
		}
		names = append(names, e.Name())
	}
	// ReadDir already sorts by filename.
	return names, nil
}

func isDir(parent string, e fs.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && info.IsDir()
}
