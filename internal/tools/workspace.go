package tools

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Workspace confines tool file access to one directory tree. Paths supplied
// by the model resolve relative to the root and may not escape it, including
// through symlinks.
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace rooted at the given directory, which
// must exist.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root %q: %w", root, err)
	}
	return &Workspace{root: resolved}, nil
}

// Root returns the resolved absolute root path.
func (w *Workspace) Root() string { return w.root }

// Resolve maps a tool-supplied path to an absolute location inside the
// workspace. Symlinks are followed before the containment check.
func (w *Workspace) Resolve(path string) (string, error) {
	abs := filepath.Clean(path)
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.root, abs)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Target may not exist. Resolve the parent and re-attach the
		// final element so symlinked directories are still checked.
		parent, perr := filepath.EvalSymlinks(filepath.Dir(abs))
		if perr != nil {
			resolved = abs
		} else {
			resolved = filepath.Join(parent, filepath.Base(abs))
		}
	}

	if resolved != w.root && !strings.HasPrefix(resolved, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", path)
	}
	return resolved, nil
}
