package ocr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathResolver maps stored image paths onto files under a fixed set of roots.
// Stored filenames come from uploads, so every candidate is checked against
// the roots after symlinks are resolved.
type PathResolver struct {
	roots []string
}

// NewPathResolver builds a resolver for the given roots. Roots that do not
// exist yet are kept; they simply never match.
func NewPathResolver(roots []string) (*PathResolver, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("ocr: at least one image root is required")
	}
	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("ocr: invalid image root %q: %w", root, err)
		}
		resolved = append(resolved, realPath(abs))
	}
	return &PathResolver{roots: resolved}, nil
}

// Roots returns the absolute roots the resolver accepts.
func (r *PathResolver) Roots() []string {
	return append([]string(nil), r.roots...)
}

// Resolve returns the absolute path of the stored image. Each root joined with
// the stored path is tried in order, then the stored path itself.
func (r *PathResolver) Resolve(stored string) (string, error) {
	if strings.TrimSpace(stored) == "" || strings.ContainsRune(stored, 0) {
		return "", ErrInvalidPath
	}

	candidates := make([]string, 0, len(r.roots)+1)
	for _, root := range r.roots {
		candidates = append(candidates, filepath.Join(root, stored))
	}
	candidates = append(candidates, stored)

	inside := false
	for _, candidate := range candidates {
		path, ok := r.contain(candidate)
		if !ok {
			continue
		}
		inside = true

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() {
			return "", ErrNotRegularFile
		}
		return path, nil
	}

	if !inside {
		return "", ErrPathOutsideRoots
	}
	return "", ErrFileNotFound
}

// contain reports whether candidate lies under one of the roots and returns
// its symlink-free absolute form.
func (r *PathResolver) contain(candidate string) (string, bool) {
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", false
	}
	path := realPath(abs)
	for _, root := range r.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return path, true
	}
	return "", false
}

func realPath(abs string) string {
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return abs
}
