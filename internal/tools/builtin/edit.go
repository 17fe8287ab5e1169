package builtin

import (
	"fmt"
	"os"
	"strings"

	"github.com/nextlevelbuilder/clawcore/internal/tools"
	"github.com/nextlevelbuilder/clawcore/internal/workspace"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

type editArgs struct {
	FilePath   string `json:"filePath,omitempty" jsonschema:"description=Path to the file, relative to the workspace"`
	FileID     string `json:"fileId,omitempty" jsonschema:"description=File handle from a previous glob/grep result"`
	OldString  string `json:"oldString" jsonschema:"required,description=Exact text to replace"`
	NewString  string `json:"newString" jsonschema:"required,description=Replacement text"`
	ReplaceAll bool   `json:"replaceAll,omitempty" jsonschema:"description=Replace every occurrence instead of requiring uniqueness"`
}

// Edit returns the edit tool definition: exact-string replacement with a
// uniqueness requirement unless replaceAll is set.
func Edit() *tools.Definition {
	return &tools.Definition{
		ID:          "edit",
		Description: "Replace an exact string in a file. The old string must match exactly once unless replaceAll is set.",
		Parameters:  tools.MustSchemaFor(&editArgs{}),
		Metadata: tools.Metadata{
			Permission:         "edit",
			PermissionPatterns: []tools.PatternExtractor{{Arg: "filePath", Kind: tools.PatternPath}},
			Input:              tools.InputProtocol{FileID: true},
		},
		Handler: editHandler,
	}
}

func editHandler(args map[string]any, tc tools.Context) *tools.Result {
	filePath, _ := args["filePath"].(string)
	oldString, _ := args["oldString"].(string)
	newString, _ := args["newString"].(string)
	replaceAll, _ := args["replaceAll"].(bool)

	if filePath == "" {
		return tools.Errorf("filePath or fileId is required")
	}
	if oldString == "" {
		return tools.Errorf("oldString is required")
	}
	if oldString == newString {
		return tools.Errorf("oldString and newString are identical")
	}

	guard := workspace.NewGuard(tc.WorkspaceRoot, tc.AllowExternalPaths)
	resolved, err := guard.Resolve(filePath)
	if err != nil {
		return guardRefusal(err)
	}

	data, err := os.ReadFile(resolved.AbsPath)
	if err != nil {
		return tools.Errorf(fmt.Sprintf("cannot read %s: %v", resolved.RelPath, err))
	}
	content := string(data)

	count := strings.Count(content, oldString)
	switch {
	case count == 0:
		return tools.Refusal(protocol.ErrEditOldStringNotFound,
			fmt.Sprintf("oldString not found in %s; read the file again, it may have changed", resolved.RelPath))
	case count > 1 && !replaceAll:
		return tools.Refusal(protocol.ErrEditOldStringMultipleMatches,
			fmt.Sprintf("oldString matches %d times in %s; add surrounding context or set replaceAll", count, resolved.RelPath))
	}

	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, oldString, newString)
	} else {
		updated = strings.Replace(content, oldString, newString, 1)
	}

	info, err := os.Stat(resolved.AbsPath)
	mode := os.FileMode(0o644)
	if err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(resolved.AbsPath, []byte(updated), mode); err != nil {
		return tools.Errorf(fmt.Sprintf("cannot write %s: %v", resolved.RelPath, err))
	}

	replaced := 1
	if replaceAll {
		replaced = count
	}
	return tools.Ok(fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, resolved.RelPath))
}
