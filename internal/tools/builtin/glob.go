package builtin

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/clawcore/internal/handles"
	"github.com/nextlevelbuilder/clawcore/internal/tools"
)

// maxGlobResults bounds one glob listing; beyond it the result is marked
// truncated so the decoration appends a narrowing hint.
const maxGlobResults = 200

type globArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob pattern like **/*.go or src/*.ts"`
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to search under, defaults to the workspace root"`
}

// Glob returns the glob tool definition. Results go through the glob output
// protocol, which interns a file handle per path.
func Glob() *tools.Definition {
	return &tools.Definition{
		ID:          "glob",
		Description: "Find files matching a glob pattern. Returns file ids usable with read/edit.",
		Parameters:  tools.MustSchemaFor(&globArgs{}),
		Metadata: tools.Metadata{
			Permission:         "read",
			PermissionPatterns: []tools.PatternExtractor{{Arg: "path", Kind: tools.PatternPath}},
			ReadOnly:           true,
			Output:             tools.OutputProtocol{Glob: true},
		},
		Handler: globHandler,
	}
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"__pycache__":  true,
}

func globHandler(args map[string]any, tc tools.Context) *tools.Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return tools.Errorf("pattern is required")
	}
	base := tc.WorkspaceRoot
	if sub, _ := args["path"].(string); sub != "" {
		base = filepath.Join(tc.WorkspaceRoot, sub)
	}

	var files []string
	truncated := false
	filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(tc.WorkspaceRoot, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !globMatch(pattern, rel) {
			return nil
		}
		if len(files) >= maxGlobResults {
			truncated = true
			return filepath.SkipAll
		}
		files = append(files, rel)
		return nil
	})
	sort.Strings(files)

	return tools.Ok(handles.GlobData{Files: files, Truncated: truncated})
}

// globMatch extends path.Match with ** support: a "**/" segment matches any
// number of directories including none.
func globMatch(pattern, name string) bool {
	if !strings.Contains(pattern, "**") {
		ok, err := path.Match(pattern, name)
		return err == nil && ok
	}

	parts := strings.SplitN(pattern, "**", 2)
	prefix, suffix := parts[0], parts[1]
	if prefix != "" && !strings.HasPrefix(name, prefix) {
		return false
	}
	rest := strings.TrimPrefix(name, prefix)
	suffix = strings.TrimPrefix(suffix, "/")
	if suffix == "" {
		return true
	}
	// Try the suffix against every tail of the remaining path.
	segments := strings.Split(rest, "/")
	for i := range segments {
		if globMatch(suffix, strings.Join(segments[i:], "/")) {
			return true
		}
	}
	return false
}
