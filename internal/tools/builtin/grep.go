package builtin

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/clawcore/internal/handles"
	"github.com/nextlevelbuilder/clawcore/internal/tools"
)

const (
	maxGrepMatches  = 200
	maxGrepLineLen  = 400
	maxGrepFileSize = 2 * 1024 * 1024
)

type grepArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Regular expression to search for"`
	Path    string `json:"path,omitempty" jsonschema:"description=Directory or file to search, defaults to the workspace root"`
	Glob    string `json:"glob,omitempty" jsonschema:"description=Only search files matching this glob"`
}

// Grep returns the grep tool definition. Matches go through the grep output
// protocol, which mints a matchId per row.
func Grep() *tools.Definition {
	return &tools.Definition{
		ID:          "grep",
		Description: "Search file contents with a regular expression. Returns match ids usable with symbols_peek.",
		Parameters:  tools.MustSchemaFor(&grepArgs{}),
		Metadata: tools.Metadata{
			Permission:         "read",
			PermissionPatterns: []tools.PatternExtractor{{Arg: "path", Kind: tools.PatternPath}},
			ReadOnly:           true,
			Output:             tools.OutputProtocol{Grep: true},
		},
		Handler: grepHandler,
	}
}

func grepHandler(args map[string]any, tc tools.Context) *tools.Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return tools.Errorf("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return tools.Errorf(fmt.Sprintf("invalid pattern: %v", err))
	}

	base := tc.WorkspaceRoot
	if sub, _ := args["path"].(string); sub != "" {
		base = filepath.Join(tc.WorkspaceRoot, sub)
	}
	fileGlob, _ := args["glob"].(string)

	var matches []handles.GrepMatch
	truncated := false
	filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
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
		if fileGlob != "" && !globMatch(fileGlob, rel) {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxGrepFileSize {
			return nil
		}

		fileMatches, done := grepFile(p, rel, re, maxGrepMatches-len(matches))
		matches = append(matches, fileMatches...)
		if done {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})

	return tools.Ok(handles.GrepData{Matches: matches, Truncated: truncated})
}

// grepFile scans one file, returning up to budget matches. done=true means
// the budget was exhausted mid-file.
func grepFile(abs, rel string, re *regexp.Regexp, budget int) ([]handles.GrepMatch, bool) {
	f, err := os.Open(abs)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var out []handles.GrepMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			return out, false // binary file
		}
		loc := re.FindStringIndex(line)
		if loc == nil {
			continue
		}
		text := line
		if len(text) > maxGrepLineLen {
			text = text[:maxGrepLineLen] + "..."
		}
		out = append(out, handles.GrepMatch{
			Path:      rel,
			Line:      lineNo,
			Character: loc[0],
			Text:      text,
		})
		if len(out) >= budget {
			return out, true
		}
	}
	return out, false
}
