package builtin

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/clawcore/internal/tools"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

type taskDepthKey struct{}

// WithTaskDepth marks a context as running inside a sub-agent so nested
// spawns can be refused.
func WithTaskDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, taskDepthKey{}, depth)
}

// TaskDepth reads the sub-agent nesting level, 0 for the root agent.
func TaskDepth(ctx context.Context) int {
	if d, ok := ctx.Value(taskDepthKey{}).(int); ok {
		return d
	}
	return 0
}

// TaskRunner executes one sub-agent turn and returns its final text. The
// agent package supplies this so the tool stays free of loop imports.
type TaskRunner func(ctx context.Context, prompt string) (string, error)

type taskArgs struct {
	Prompt string `json:"prompt" jsonschema:"required,description=Self-contained instructions for the sub-agent"`
}

// Task returns the sub-agent spawn tool. Sub-agents may not spawn further
// sub-agents.
func Task(run TaskRunner) *tools.Definition {
	return &tools.Definition{
		ID:          "task",
		Description: "Spawn a sub-agent to handle a self-contained task and return its final answer.",
		Parameters:  tools.MustSchemaFor(&taskArgs{}),
		Metadata: tools.Metadata{
			Permission: "task",
		},
		Handler: func(args map[string]any, tc tools.Context) *tools.Result {
			prompt, _ := args["prompt"].(string)
			if prompt == "" {
				return tools.Errorf("prompt is required")
			}
			if TaskDepth(tc.Ctx) > 0 {
				return tools.Refusal(protocol.ErrTaskRecursionDenied,
					"sub-agents cannot spawn further sub-agents; do the work directly")
			}
			if run == nil {
				return tools.Errorf("sub-agent execution is not configured")
			}

			text, err := run(WithTaskDepth(tc.Ctx, 1), prompt)
			if err != nil {
				return tools.Errorf(fmt.Sprintf("sub-agent failed: %v", err))
			}
			if text == "" {
				text = "(sub-agent produced no output)"
			}
			return tools.Ok(text)
		},
	}
}
