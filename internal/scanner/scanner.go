// Package scanner lists directories under a root to a bounded depth. The
// output is display material for the model prompt; no trust is attached to
// it beyond normal path resolution if a scanned path is later targeted.
package scanner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

const (
	defaultMaxDepth   = 2
	defaultMaxEntries = 100
)

// Scanner performs bounded-depth directory walks. Each call re-walks, so
// the listing is restartable and always current.
type Scanner struct {
	maxDepth   int
	maxEntries int
}

func New(maxDepth, maxEntries int) *Scanner {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Scanner{maxDepth: maxDepth, maxEntries: maxEntries}
}

// Directories returns directories under root, depth-bounded and capped at
// the entry limit. Hidden directories are skipped. Unreadable subtrees are
// skipped, not fatal.
func (s *Scanner) Directories(root string) ([]string, error) {
	root = filepath.Clean(root)
	var dirs []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if depth(root, path) > s.maxDepth {
			return fs.SkipDir
		}
		dirs = append(dirs, path)
		if len(dirs) >= s.maxEntries {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return dirs, nil
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
