package builtin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/clawcore/internal/tools"
	"github.com/nextlevelbuilder/clawcore/internal/workspace"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

type writeArgs struct {
	FilePath  string `json:"filePath" jsonschema:"required,description=Path to write, relative to the workspace"`
	Content   string `json:"content" jsonschema:"required,description=Full file content"`
	Overwrite bool   `json:"overwrite,omitempty" jsonschema:"description=Set true to replace an existing file"`
}

// Write returns the write tool definition. Existing files are protected
// unless the model explicitly opts into overwriting.
func Write() *tools.Definition {
	return &tools.Definition{
		ID:          "write",
		Description: "Create a file or overwrite an existing one (overwrite must be explicit).",
		Parameters:  tools.MustSchemaFor(&writeArgs{}),
		Metadata: tools.Metadata{
			Permission:         "edit",
			PermissionPatterns: []tools.PatternExtractor{{Arg: "filePath", Kind: tools.PatternPath}},
		},
		Handler: writeHandler,
	}
}

func writeHandler(args map[string]any, tc tools.Context) *tools.Result {
	filePath, _ := args["filePath"].(string)
	content, _ := args["content"].(string)
	overwrite, _ := args["overwrite"].(bool)
	if filePath == "" {
		return tools.Errorf("filePath is required")
	}

	guard := workspace.NewGuard(tc.WorkspaceRoot, tc.AllowExternalPaths)
	resolved, err := guard.Resolve(filePath)
	if err != nil {
		return guardRefusal(err)
	}

	if _, statErr := os.Stat(resolved.AbsPath); statErr == nil && !overwrite {
		return tools.Refusal(protocol.ErrWriteOverwriteBlocked,
			fmt.Sprintf("%s already exists; re-run with overwrite=true or use edit", resolved.RelPath))
	}

	if err := os.MkdirAll(filepath.Dir(resolved.AbsPath), 0o755); err != nil {
		return tools.Errorf(fmt.Sprintf("cannot create parent directory: %v", err))
	}
	if err := os.WriteFile(resolved.AbsPath, []byte(content), 0o644); err != nil {
		return tools.Errorf(fmt.Sprintf("cannot write %s: %v", resolved.RelPath, err))
	}

	return tools.Ok(fmt.Sprintf("Wrote %d bytes to %s", len(content), resolved.RelPath))
}
