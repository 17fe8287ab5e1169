package builtin

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/clawcore/internal/tools"
	"github.com/nextlevelbuilder/clawcore/internal/workspace"
)

type lsArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list, defaults to the workspace root"`
}

// Ls returns the ls tool definition.
func Ls() *tools.Definition {
	return &tools.Definition{
		ID:          "ls",
		Description: "List a directory's entries. Directories end with a slash.",
		Parameters:  tools.MustSchemaFor(&lsArgs{}),
		Metadata: tools.Metadata{
			Permission:         "read",
			PermissionPatterns: []tools.PatternExtractor{{Arg: "path", Kind: tools.PatternPath}},
			ReadOnly:           true,
		},
		Handler: lsHandler,
	}
}

func lsHandler(args map[string]any, tc tools.Context) *tools.Result {
	dir, _ := args["path"].(string)
	if dir == "" {
		dir = "."
	}

	guard := workspace.NewGuard(tc.WorkspaceRoot, tc.AllowExternalPaths)
	resolved, err := guard.Resolve(dir)
	if err != nil {
		return guardRefusal(err)
	}

	entries, err := os.ReadDir(resolved.AbsPath)
	if err != nil {
		return tools.Errorf(fmt.Sprintf("cannot list %s: %v", resolved.RelPath, err))
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return tools.Ok(fmt.Sprintf("%s is empty", resolved.RelPath))
	}
	return tools.Ok(strings.Join(names, "\n"))
}
