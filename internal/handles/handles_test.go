package handles

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFileRegistry_InternStable(t *testing.T) {
	r := NewFileRegistry()

	a := r.Intern("src/foo.ts")
	b := r.Intern("src/bar.ts")
	if a != "F1" || b != "F2" {
		t.Fatalf("ids = %s, %s, want F1, F2", a, b)
	}
	if again := r.Intern("src/foo.ts"); again != a {
		t.Errorf("re-intern minted new id %s", again)
	}
	if got := r.Resolve("F2"); got != "src/bar.ts" {
		t.Errorf("Resolve(F2) = %q", got)
	}
	if got := r.Resolve("F99"); got != "" {
		t.Errorf("Resolve(unknown) = %q, want empty", got)
	}
}

func TestFileRegistry_SnapshotRoundTrip(t *testing.T) {
	r := NewFileRegistry()
	r.Intern("a.go")
	r.Intern("b.go")

	data, err := json.Marshal(r.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	var snap FileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}

	restored := NewFileRegistry()
	restored.Restore(snap)

	if restored.Resolve("F1") != "a.go" || restored.Resolve("F2") != "b.go" {
		t.Error("restored registry lost mappings")
	}
	// Fresh ids continue after the restored counter; F1/F2 are never reused.
	if id := restored.Intern("c.go"); id != "F3" {
		t.Errorf("post-restore mint = %s, want F3", id)
	}
}

func TestSemanticRegistry_MintAndResolve(t *testing.T) {
	r := NewSemanticRegistry()

	m := r.CreateMatch("F1", 12, 4, "foo()")
	if m.ID != "M1" {
		t.Fatalf("match id = %s", m.ID)
	}
	s := r.Create(KindSymbol, "F1", Range{}, "", "handleRequest")
	if s.ID != "S1" {
		t.Fatalf("symbol id = %s", s.ID)
	}
	l := r.Create(KindLoc, "F2", Range{}, "", "")
	if l.ID != "L1" {
		t.Fatalf("loc id = %s", l.ID)
	}

	if _, ok := r.Resolve("M1", KindMatch); !ok {
		t.Error("M1 did not resolve as match")
	}
	if _, ok := r.Resolve("M1", KindSymbol); ok {
		t.Error("M1 resolved under wrong kind")
	}
	if _, ok := r.Resolve("M9", KindMatch); ok {
		t.Error("unknown id resolved")
	}
}

func TestSemanticRegistry_SnapshotRoundTrip(t *testing.T) {
	r := NewSemanticRegistry()
	r.CreateMatch("F1", 1, 0, "x")
	r.CreateMatch("F1", 2, 0, "y")

	data, err := json.Marshal(r.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	var snap SemanticSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}

	restored := NewSemanticRegistry()
	restored.Restore(snap)
	if _, ok := restored.Resolve("M2", KindMatch); !ok {
		t.Error("restored registry lost M2")
	}
	if h := restored.CreateMatch("F1", 3, 0, "z"); h.ID != "M3" {
		t.Errorf("post-restore mint = %s, want M3", h.ID)
	}
}

func TestDecorateGlob(t *testing.T) {
	files := NewFileRegistry()
	out := DecorateGlob(files, GlobData{Files: []string{"src/foo.ts", "src/bar.ts"}})

	if !strings.Contains(out, "F1  src/foo.ts") || !strings.Contains(out, "F2  src/bar.ts") {
		t.Errorf("table missing rows:\n%s", out)
	}
	if !strings.Contains(out, "Use fileId") {
		t.Errorf("missing preamble:\n%s", out)
	}

	out = DecorateGlob(files, GlobData{Files: []string{"x.ts"}, Truncated: true})
	if !strings.Contains(out, "truncated") {
		t.Errorf("missing truncation note:\n%s", out)
	}
}

func TestDecorateGrep(t *testing.T) {
	files := NewFileRegistry()
	sem := NewSemanticRegistry()

	out := DecorateGrep(files, sem, GrepData{Matches: []GrepMatch{
		{Path: "src/foo.ts", Line: 30, Character: 1, Text: "later()"},
		{Path: "src/foo.ts", Line: 12, Character: 4, Text: "earlier()"},
		{Path: "src/bar.ts", Line: 5, Character: 0, Text: "other()"},
	}})

	// Per-file ordering by (line, character): the line-12 match gets M1.
	if !strings.Contains(out, "M1 Line 12, Character 4") {
		t.Errorf("expected M1 at line 12:\n%s", out)
	}
	if !strings.Contains(out, "M2 Line 30") {
		t.Errorf("expected M2 at line 30:\n%s", out)
	}
	if !strings.Contains(out, "Next: symbols_peek M1") {
		t.Errorf("missing Next hint:\n%s", out)
	}
	if _, ok := sem.Resolve("M3", KindMatch); !ok {
		t.Error("third match handle missing")
	}
}

func TestDecorateSymbolsSearch(t *testing.T) {
	files := NewFileRegistry()
	sem := NewSemanticRegistry()

	out := DecorateSymbolsSearch(files, sem, SymbolsData{Symbols: []SymbolRow{
		{Name: "Handler", Kind: "struct", Path: "srv/h.go", Range: Range{Start: Position{Line: 10}}},
	}})
	if !strings.Contains(out, "S1 struct Handler") {
		t.Errorf("missing symbol row:\n%s", out)
	}
	if h, ok := sem.Resolve("S1", KindSymbol); !ok || h.Name != "Handler" {
		t.Errorf("S1 handle = %+v, ok=%v", h, ok)
	}
}
