// Package builtin provides the stock tool set: file access, search, shell,
// and sub-agent spawning. Definitions are wired into a registry at bootstrap.
package builtin

import (
	"fmt"
	"os"
	"strings"

	"github.com/nextlevelbuilder/clawcore/internal/tools"
	"github.com/nextlevelbuilder/clawcore/internal/workspace"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

const (
	// maxReadBytes is the absolute size a single read may return.
	maxReadBytes = 256 * 1024
	// rangeRequiredBytes forces startLine/endLine on files past this size.
	rangeRequiredBytes = 1024 * 1024
	// maxRangeLines bounds one ranged read.
	maxRangeLines = 2000
)

type readArgs struct {
	FilePath  string `json:"filePath,omitempty" jsonschema:"description=Path to the file, relative to the workspace"`
	FileID    string `json:"fileId,omitempty" jsonschema:"description=File handle from a previous glob/grep result"`
	StartLine int    `json:"startLine,omitempty" jsonschema:"description=First line to read, 1-based"`
	EndLine   int    `json:"endLine,omitempty" jsonschema:"description=Last line to read, inclusive"`
}

// Read returns the read tool definition.
func Read() *tools.Definition {
	return &tools.Definition{
		ID:          "read",
		Description: "Read a file's contents, optionally restricted to a line range.",
		Parameters:  tools.MustSchemaFor(&readArgs{}),
		Metadata: tools.Metadata{
			Permission:         "read",
			PermissionPatterns: []tools.PatternExtractor{{Arg: "filePath", Kind: tools.PatternPath}},
			ReadOnly:           true,
			Input:              tools.InputProtocol{FileID: true},
		},
		Handler: readHandler,
	}
}

func readHandler(args map[string]any, tc tools.Context) *tools.Result {
	filePath, _ := args["filePath"].(string)
	if filePath == "" {
		return tools.Errorf("filePath or fileId is required")
	}

	guard := workspace.NewGuard(tc.WorkspaceRoot, tc.AllowExternalPaths)
	resolved, err := guard.Resolve(filePath)
	if err != nil {
		return guardRefusal(err)
	}

	info, err := os.Stat(resolved.AbsPath)
	if err != nil {
		return tools.Errorf(fmt.Sprintf("cannot read %s: %v", resolved.RelPath, err))
	}
	if info.IsDir() {
		return tools.Errorf(fmt.Sprintf("%s is a directory; use ls", resolved.RelPath))
	}

	startLine := intArg(args, "startLine")
	endLine := intArg(args, "endLine")
	hasRange := startLine > 0

	if info.Size() > rangeRequiredBytes && !hasRange {
		return tools.Refusal(protocol.ErrReadRequiresRange,
			fmt.Sprintf("%s is %d bytes; pass startLine/endLine to read a slice", resolved.RelPath, info.Size()))
	}

	data, err := os.ReadFile(resolved.AbsPath)
	if err != nil {
		return tools.Errorf(fmt.Sprintf("cannot read %s: %v", resolved.RelPath, err))
	}

	if !hasRange {
		if len(data) > maxReadBytes {
			return tools.Refusal(protocol.ErrTooLarge,
				fmt.Sprintf("%s is %d bytes, above the %d byte limit; read a line range instead", resolved.RelPath, len(data), maxReadBytes))
		}
		return tools.Ok(string(data))
	}

	lines := strings.Split(string(data), "\n")
	if endLine <= 0 || endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > len(lines) {
		return tools.Errorf(fmt.Sprintf("startLine %d is past the end of %s (%d lines)", startLine, resolved.RelPath, len(lines)))
	}
	if endLine-startLine+1 > maxRangeLines {
		return tools.Refusal(protocol.ErrReadLimitExceeded,
			fmt.Sprintf("requested %d lines; the limit is %d per read", endLine-startLine+1, maxRangeLines))
	}

	var b strings.Builder
	for i := startLine; i <= endLine; i++ {
		fmt.Fprintf(&b, "%d\t%s\n", i, lines[i-1])
	}
	return tools.Ok(strings.TrimRight(b.String(), "\n"))
}

func guardRefusal(err error) *tools.Result {
	if ge, ok := err.(*workspace.GuardError); ok {
		res := tools.Refusal(ge.Code, ge.Error())
		res.Meta().BlockedPaths = []string{ge.Path}
		return res
	}
	return tools.Errorf(err.Error())
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}
