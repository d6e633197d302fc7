package patch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Resolver resolves workspace-relative paths, grounded on
// internal/tools/files/resolver.go's Resolve — but, per spec §4.F ("Paths
// are repo-relative; absolute paths are rejected"), any absolute input is
// always invalid. The teacher's Resolver instead lets an absolute path
// through silently when it already resolves inside the root.
type Resolver struct {
	Root string
}

// Resolve returns root-joined absolute path for a repo-relative path, or
// an error if path is absolute or escapes the workspace.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("patch: path is required")
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("patch: absolute paths are rejected: %q", path)
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("patch: resolve workspace root: %w", err)
	}
	target := filepath.Join(rootAbs, clean)
	rel, err := filepath.Rel(rootAbs, target)
	if err != nil {
		return "", fmt.Errorf("patch: resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("patch: path escapes workspace: %q", path)
	}
	return target, nil
}
