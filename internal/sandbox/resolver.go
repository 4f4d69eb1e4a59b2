// Package sandbox constrains every filesystem path the rest of the system
// touches to a single allowed root directory.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"llmsh/internal/domain"
)

// ResolvedPath is a canonicalized absolute path known to live under the
// allowed root. It can only be produced by a Resolver, so components that
// accept ResolvedPath values never see unchecked raw strings.
type ResolvedPath struct {
	abs string
}

func (p ResolvedPath) String() string { return p.abs }

// IsZero reports whether the path was never resolved.
func (p ResolvedPath) IsZero() bool { return p.abs == "" }

// Resolver normalizes paths and verifies they stay under the allowed root.
// Resolution is pure apart from realpath-style canonicalization; it never
// creates or modifies anything.
type Resolver struct {
	root string // canonicalized absolute allowed root
}

// NewResolver canonicalizes root and returns a resolver bound to it.
// The root must exist.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("root %s: %w", root, domain.ErrPathNotFound)
		}
		return nil, fmt.Errorf("canonicalize root %s: %w", root, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}
	return &Resolver{root: canonical}, nil
}

// Root returns the canonicalized allowed root.
func (r *Resolver) Root() string { return r.root }

// Resolve normalizes raw (".." segments, symlinks, relative paths are taken
// relative to the root) and verifies the result is the root or a descendant
// of it. Targets that do not exist yet resolve through their deepest existing
// ancestor. Any escape attempt fails with domain.ErrPathOutOfScope.
func (r *Resolver) Resolve(raw string) (ResolvedPath, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ResolvedPath{}, fmt.Errorf("empty path: %w", domain.ErrPathNotFound)
	}
	if home, err := os.UserHomeDir(); err == nil {
		if raw == "~" {
			raw = home
		} else if strings.HasPrefix(raw, "~/") {
			raw = filepath.Join(home, raw[2:])
		}
	}
	if !filepath.IsAbs(raw) {
		raw = filepath.Join(r.root, raw)
	}
	canonical, err := r.canonicalize(filepath.Clean(raw))
	if err != nil {
		return ResolvedPath{}, err
	}
	if !r.contains(canonical) {
		return ResolvedPath{}, fmt.Errorf("%s: %w", canonical, domain.ErrPathOutOfScope)
	}
	return ResolvedPath{abs: canonical}, nil
}

// canonicalize resolves symlinks in path. When components are missing it
// resolves the deepest existing ancestor and re-appends the remainder, since
// target files may not exist yet.
func (r *Resolver) canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("canonicalize %s: %w", path, domain.ErrPathNotFound)
	}

	var rest []string
	current := path
	for {
		parent := filepath.Dir(current)
		if parent == current {
			// Ran out of ancestors without finding an existing one.
			return "", fmt.Errorf("%s: %w", path, domain.ErrPathNotFound)
		}
		rest = append(rest, filepath.Base(current))
		current = parent

		resolved, err = filepath.EvalSymlinks(current)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("canonicalize %s: %w", current, domain.ErrPathNotFound)
		}
	}

	for i := len(rest) - 1; i >= 0; i-- {
		// ".." in a nonexistent suffix must not climb out of the
		// resolved ancestor unchecked: Join cleans it away here, and the
		// earlier filepath.Clean already collapsed the lexical ones.
		resolved = filepath.Join(resolved, rest[i])
	}
	return resolved, nil
}

func (r *Resolver) contains(abs string) bool {
	return abs == r.root || strings.HasPrefix(abs, r.root+string(filepath.Separator))
}
