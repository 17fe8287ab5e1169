package builtin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/clawcore/internal/handles"
	"github.com/nextlevelbuilder/clawcore/internal/tools"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

func testCtx(t *testing.T) tools.Context {
	t.Helper()
	return tools.Context{
		Ctx:           context.Background(),
		WorkspaceRoot: t.TempDir(),
		SessionID:     "test",
		Log:           slog.Default(),
	}
}

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadWholeFile(t *testing.T) {
	tc := testCtx(t)
	writeTestFile(t, tc.WorkspaceRoot, "hello.txt", "hello\nworld\n")

	res := Read().Handler(map[string]any{"filePath": "hello.txt"}, tc)
	if !res.Success || res.Data != "hello\nworld\n" {
		t.Fatalf("result = %+v", res)
	}
}

func TestReadRange(t *testing.T) {
	tc := testCtx(t)
	writeTestFile(t, tc.WorkspaceRoot, "nums.txt", "one\ntwo\nthree\nfour")

	res := Read().Handler(map[string]any{
		"filePath": "nums.txt", "startLine": float64(2), "endLine": float64(3),
	}, tc)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	text := res.Data.(string)
	if !strings.Contains(text, "2\ttwo") || !strings.Contains(text, "3\tthree") || strings.Contains(text, "one") {
		t.Errorf("ranged read = %q", text)
	}
}

func TestReadLimitExceeded(t *testing.T) {
	tc := testCtx(t)
	writeTestFile(t, tc.WorkspaceRoot, "big.txt", strings.Repeat("line\n", 3000))

	res := Read().Handler(map[string]any{
		"filePath": "big.txt", "startLine": float64(1), "endLine": float64(2500),
	}, tc)
	if res.Success || res.Metadata == nil || res.Metadata.ErrorCode != protocol.ErrReadLimitExceeded {
		t.Fatalf("result = %+v", res)
	}
}

func TestReadTooLarge(t *testing.T) {
	tc := testCtx(t)
	writeTestFile(t, tc.WorkspaceRoot, "blob.bin", strings.Repeat("x", maxReadBytes+1))

	res := Read().Handler(map[string]any{"filePath": "blob.bin"}, tc)
	if res.Success || res.Metadata == nil || res.Metadata.ErrorCode != protocol.ErrTooLarge {
		t.Fatalf("result = %+v", res)
	}
}

func TestWriteAndOverwriteBlocked(t *testing.T) {
	tc := testCtx(t)

	res := Write().Handler(map[string]any{"filePath": "new.txt", "content": "v1"}, tc)
	if !res.Success {
		t.Fatalf("create failed: %+v", res)
	}

	res = Write().Handler(map[string]any{"filePath": "new.txt", "content": "v2"}, tc)
	if res.Success || res.Metadata == nil || res.Metadata.ErrorCode != protocol.ErrWriteOverwriteBlocked {
		t.Fatalf("overwrite without flag = %+v", res)
	}

	res = Write().Handler(map[string]any{"filePath": "new.txt", "content": "v2", "overwrite": true}, tc)
	if !res.Success {
		t.Fatalf("explicit overwrite failed: %+v", res)
	}
	data, _ := os.ReadFile(filepath.Join(tc.WorkspaceRoot, "new.txt"))
	if string(data) != "v2" {
		t.Errorf("content = %q", data)
	}
}

func TestEditUniqueness(t *testing.T) {
	tc := testCtx(t)
	writeTestFile(t, tc.WorkspaceRoot, "code.go", "foo()\nbar()\nfoo()\n")

	res := Edit().Handler(map[string]any{
		"filePath": "code.go", "oldString": "missing()", "newString": "x()",
	}, tc)
	if res.Metadata == nil || res.Metadata.ErrorCode != protocol.ErrEditOldStringNotFound {
		t.Fatalf("not-found = %+v", res)
	}

	res = Edit().Handler(map[string]any{
		"filePath": "code.go", "oldString": "foo()", "newString": "baz()",
	}, tc)
	if res.Metadata == nil || res.Metadata.ErrorCode != protocol.ErrEditOldStringMultipleMatches {
		t.Fatalf("multi-match = %+v", res)
	}

	res = Edit().Handler(map[string]any{
		"filePath": "code.go", "oldString": "foo()", "newString": "baz()", "replaceAll": true,
	}, tc)
	if !res.Success {
		t.Fatalf("replaceAll failed: %+v", res)
	}
	data, _ := os.ReadFile(filepath.Join(tc.WorkspaceRoot, "code.go"))
	if strings.Contains(string(data), "foo()") {
		t.Errorf("content = %q", data)
	}
}

func TestGlobPatterns(t *testing.T) {
	tc := testCtx(t)
	writeTestFile(t, tc.WorkspaceRoot, "a.go", "")
	writeTestFile(t, tc.WorkspaceRoot, "src/b.go", "")
	writeTestFile(t, tc.WorkspaceRoot, "src/deep/c.go", "")
	writeTestFile(t, tc.WorkspaceRoot, "readme.md", "")

	res := Glob().Handler(map[string]any{"pattern": "**/*.go"}, tc)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	data := res.Data.(handles.GlobData)
	if len(data.Files) != 3 {
		t.Errorf("files = %v", data.Files)
	}

	res = Glob().Handler(map[string]any{"pattern": "src/*.go"}, tc)
	data = res.Data.(handles.GlobData)
	if len(data.Files) != 1 || data.Files[0] != "src/b.go" {
		t.Errorf("files = %v", data.Files)
	}
}

func TestGrepMatches(t *testing.T) {
	tc := testCtx(t)
	writeTestFile(t, tc.WorkspaceRoot, "main.go", "package main\n\nfunc main() {}\n")
	writeTestFile(t, tc.WorkspaceRoot, "util.go", "package main\n\nfunc helper() {}\n")

	res := Grep().Handler(map[string]any{"pattern": `func \w+`}, tc)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	data := res.Data.(handles.GrepData)
	if len(data.Matches) != 2 {
		t.Fatalf("matches = %+v", data.Matches)
	}
	m := data.Matches[0]
	if m.Line != 3 || m.Character != 0 {
		t.Errorf("match position = %d:%d", m.Line, m.Character)
	}
}

func TestLs(t *testing.T) {
	tc := testCtx(t)
	writeTestFile(t, tc.WorkspaceRoot, "file.txt", "")
	os.Mkdir(filepath.Join(tc.WorkspaceRoot, "dir"), 0o755)

	res := Ls().Handler(map[string]any{}, tc)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	text := res.Data.(string)
	if !strings.Contains(text, "dir/") || !strings.Contains(text, "file.txt") {
		t.Errorf("listing = %q", text)
	}
}

func TestBashForeground(t *testing.T) {
	tc := testCtx(t)
	bash := NewBashTool()

	res := bash.Definition().Handler(map[string]any{"command": "echo hi"}, tc)
	if !res.Success || !strings.Contains(res.Data.(string), "hi") {
		t.Fatalf("result = %+v", res)
	}

	res = bash.Definition().Handler(map[string]any{"command": "exit 3"}, tc)
	if res.Success {
		t.Fatal("non-zero exit must fail")
	}
}

func TestBashTimeout(t *testing.T) {
	tc := testCtx(t)
	bash := NewBashTool()

	res := bash.Definition().Handler(map[string]any{
		"command": "sleep 5", "timeout": float64(100),
	}, tc)
	if res.Success || !strings.Contains(res.Error, "timed out") {
		t.Fatalf("result = %+v", res)
	}
}

func TestBashBackground(t *testing.T) {
	tc := testCtx(t)
	bash := NewBashTool()

	res := bash.Definition().Handler(map[string]any{
		"command": "echo started; sleep 0.1", "background": true,
	}, tc)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	text := res.Data.(string)
	idx := strings.Index(text, "job-")
	if idx < 0 {
		t.Fatalf("no job id in %q", text)
	}
	jobID := text[idx : idx+12]

	// Output is reachable through the companion tool.
	out := bash.Output(jobID)
	if !out.Success {
		t.Fatalf("output = %+v", out)
	}
}

func TestTaskRecursionDenied(t *testing.T) {
	ran := false
	def := Task(func(ctx context.Context, prompt string) (string, error) {
		ran = true
		return "done", nil
	})

	tc := testCtx(t)
	res := def.Handler(map[string]any{"prompt": "summarize"}, tc)
	if !res.Success || !ran {
		t.Fatalf("root spawn failed: %+v", res)
	}

	tc.Ctx = WithTaskDepth(context.Background(), 1)
	res = def.Handler(map[string]any{"prompt": "nested"}, tc)
	if res.Success || res.Metadata == nil || res.Metadata.ErrorCode != protocol.ErrTaskRecursionDenied {
		t.Fatalf("nested spawn = %+v", res)
	}
}

func TestRegisterAll(t *testing.T) {
	reg := tools.NewRegistry()
	if err := RegisterAll(reg, NewBashTool(), nil); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"read", "write", "edit", "glob", "grep", "ls", "bash", "bash_output", "task"} {
		if reg.Get(id) == nil {
			t.Errorf("tool %s not registered", id)
		}
	}
}
