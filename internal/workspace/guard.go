// Package workspace resolves and classifies filesystem paths against the
// agent workspace root. Every path a tool touches goes through the Guard so
// the rest of the runtime can rely on canonical containment checks instead
// of string prefix matching on raw input.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

// Resolved is the outcome of resolving one user- or model-supplied path.
type Resolved struct {
	AbsPath    string // absolute, cleaned (not canonicalized)
	RelPath    string // workspace-relative, forward-slashed; abs for external
	IsExternal bool
}

// GuardError carries the protocol error code for a path refusal.
type GuardError struct {
	Code protocol.ErrorCode
	Path string
	Err  error
}

func (e *GuardError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Path)
}

func (e *GuardError) Unwrap() error { return e.Err }

// Guard resolves paths relative to a workspace root and enforces the
// external-path policy.
type Guard struct {
	Root          string
	AllowExternal bool
}

// NewGuard creates a guard for the given workspace root. The root itself is
// canonicalized once so symlinked workspaces (e.g. /tmp on macOS) compare
// correctly.
func NewGuard(root string, allowExternal bool) *Guard {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	if canon, err := canonicalize(abs); err == nil {
		abs = canon
	}
	return &Guard{Root: abs, AllowExternal: allowExternal}
}

// Resolve computes the absolute path for input (joined onto the workspace
// root when relative), canonicalizes it, and classifies it as internal or
// external. External paths are rejected unless AllowExternal is set.
func (g *Guard) Resolve(input string) (Resolved, error) {
	if input == "" {
		input = "."
	}
	input = expandHome(input)

	abs := input
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.Root, abs)
	}
	abs = filepath.Clean(abs)

	canon, err := canonicalize(abs)
	if err != nil {
		if !g.AllowExternal {
			return Resolved{}, &GuardError{Code: protocol.ErrWorkspaceBoundaryCheckFailed, Path: input, Err: err}
		}
		canon = abs
	}

	external := canon != g.Root && !strings.HasPrefix(canon, g.Root+string(filepath.Separator))
	if external && !g.AllowExternal {
		return Resolved{}, &GuardError{Code: protocol.ErrExternalPathsDisabled, Path: input}
	}

	return Resolved{
		AbsPath:    abs,
		RelPath:    g.Normalize(canon),
		IsExternal: external,
	}, nil
}

// Classify reports whether the path is external without enforcing policy.
// Used by the shell command scanner, which collects external references
// rather than failing on the first one.
func (g *Guard) Classify(input string) (abs string, external bool) {
	input = expandHome(input)
	abs = input
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.Root, abs)
	}
	abs = filepath.Clean(abs)

	canon, err := canonicalize(abs)
	if err != nil {
		canon = abs
	}
	external = canon != g.Root && !strings.HasPrefix(canon, g.Root+string(filepath.Separator))
	return abs, external
}

// Normalize produces the display/key form of a path: workspace-relative and
// forward-slashed when inside the workspace, absolute otherwise.
func (g *Guard) Normalize(abs string) string {
	rel, err := filepath.Rel(g.Root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return abs
	}
	if rel == "." {
		return "."
	}
	return filepath.ToSlash(rel)
}

// canonicalize resolves symlinks for the deepest existing ancestor of path
// and re-appends the non-existent suffix. This classifies paths that do not
// exist yet (a write target) without letting a symlink escape undetected.
func canonicalize(abs string) (string, error) {
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	// Walk up to the deepest existing ancestor.
	var suffix []string
	dir := abs
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", err // hit the filesystem root without finding anything
		}
		suffix = append(suffix, filepath.Base(dir))
		dir = parent

		resolved, rerr := filepath.EvalSymlinks(dir)
		if rerr == nil {
			for i := len(suffix) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, suffix[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(rerr) {
			return "", rerr
		}
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
