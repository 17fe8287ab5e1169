package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

func TestResolve_Internal(t *testing.T) {
	root := t.TempDir()
	g := NewGuard(root, false)

	tests := []struct {
		name  string
		input string
		rel   string
	}{
		{"relative", "foo/bar.txt", "foo/bar.txt"},
		{"dot", ".", "."},
		{"nested nonexistent", "a/b/c/d.go", "a/b/c/d.go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := g.Resolve(tt.input)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.input, err)
			}
			if r.IsExternal {
				t.Errorf("Resolve(%q) classified external", tt.input)
			}
			if r.RelPath != tt.rel {
				t.Errorf("RelPath = %q, want %q", r.RelPath, tt.rel)
			}
		})
	}
}

func TestResolve_ExternalDenied(t *testing.T) {
	root := t.TempDir()
	g := NewGuard(root, false)

	for _, input := range []string{"../escape.txt", "/etc/passwd", filepath.Join(root, "..", "x")} {
		_, err := g.Resolve(input)
		var ge *GuardError
		if !errors.As(err, &ge) {
			t.Fatalf("Resolve(%q): expected GuardError, got %v", input, err)
		}
		if ge.Code != protocol.ErrExternalPathsDisabled {
			t.Errorf("Resolve(%q) code = %s, want %s", input, ge.Code, protocol.ErrExternalPathsDisabled)
		}
	}
}

func TestResolve_ExternalAllowed(t *testing.T) {
	root := t.TempDir()
	g := NewGuard(root, true)

	r, err := g.Resolve("/etc/hosts")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !r.IsExternal {
		t.Error("expected /etc/hosts to be external")
	}
	if r.RelPath != "/etc/hosts" {
		t.Errorf("external RelPath = %q, want absolute", r.RelPath)
	}
}

func TestResolve_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(root, "sneaky")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	g := NewGuard(root, false)
	_, err := g.Resolve("sneaky/data.txt")
	var ge *GuardError
	if !errors.As(err, &ge) || ge.Code != protocol.ErrExternalPathsDisabled {
		t.Fatalf("symlink escape not caught: err=%v", err)
	}
}

func TestResolve_SymlinkInside(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "real"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	g := NewGuard(root, false)
	r, err := g.Resolve("alias/file.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.IsExternal {
		t.Error("internal symlink classified external")
	}
	if r.RelPath != "real/file.txt" {
		t.Errorf("RelPath = %q, want real/file.txt", r.RelPath)
	}
}

func TestNormalize(t *testing.T) {
	root := t.TempDir()
	g := NewGuard(root, false)

	if got := g.Normalize(filepath.Join(g.Root, "src", "a.go")); got != "src/a.go" {
		t.Errorf("Normalize internal = %q", got)
	}
	if got := g.Normalize("/somewhere/else"); got != "/somewhere/else" {
		t.Errorf("Normalize external = %q", got)
	}
}
