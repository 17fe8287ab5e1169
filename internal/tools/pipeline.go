package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/clawcore/internal/handles"
	"github.com/nextlevelbuilder/clawcore/internal/permission"
	"github.com/nextlevelbuilder/clawcore/internal/plugins"
	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/safety"
	"github.com/nextlevelbuilder/clawcore/internal/workspace"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

// RejectedMessage is the deterministic error for user-declined approvals.
const RejectedMessage = "User rejected this action"

// ApprovalRequest is handed to the host when a call needs sign-off.
type ApprovalRequest struct {
	ToolID     string
	CallID     string
	Permission string
	Patterns   []string
	Args       map[string]any
	Reason     string
}

// ApprovalFunc asks the host. Errors and false both count as rejection.
type ApprovalFunc func(ctx context.Context, req ApprovalRequest) (bool, error)

// Callbacks mirror pipeline progress to the turn loop.
type Callbacks struct {
	OnToolCall     func(call providers.ToolCall, def *Definition)
	OnToolBlocked  func(call providers.ToolCall, def *Definition, reason string)
	OnToolResult   func(call providers.ToolCall, result *Result)
	OnStatusChange func(status string)
}

func (c Callbacks) toolCall(call providers.ToolCall, def *Definition) {
	if c.OnToolCall != nil {
		c.OnToolCall(call, def)
	}
}

func (c Callbacks) blocked(call providers.ToolCall, def *Definition, reason string) {
	if c.OnToolBlocked != nil {
		c.OnToolBlocked(call, def, reason)
	}
}

func (c Callbacks) result(call providers.ToolCall, result *Result) {
	if c.OnToolResult != nil {
		c.OnToolResult(call, result)
	}
}

func (c Callbacks) status(status string) {
	if c.OnStatusChange != nil {
		c.OnStatusChange(status)
	}
}

// Pipeline executes tool calls through the full policy chain. One pipeline
// serves one session and is driven only by its turn loop.
type Pipeline struct {
	Registry *Registry
	Plugins  *plugins.Registry
	Ruleset  permission.Ruleset
	Guard    *workspace.Guard
	Files    *handles.FileRegistry
	Semantic *handles.SemanticRegistry

	WorkspaceRoot      string
	AllowExternalPaths bool
	PlanMode           bool
	AutoApprove        bool
	SessionID          string

	Approval  ApprovalFunc
	Callbacks Callbacks
	Log       *slog.Logger
}

func (p *Pipeline) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

// Execute runs one call through the state machine and always returns a
// result; policy refusals and handler failures never surface as Go errors.
func (p *Pipeline) Execute(ctx context.Context, call providers.ToolCall) *Result {
	def := p.Registry.Get(call.Name)
	if def == nil {
		res := Errorf(fmt.Sprintf("unknown tool: %s", call.Name))
		p.Callbacks.result(call, res)
		return res
	}
	p.Callbacks.toolCall(call, def)

	args := cloneArgs(call.Arguments)

	// Plugin arg rewrite.
	before := &plugins.ToolBeforeOutput{Args: args}
	if p.Plugins != nil {
		in := plugins.ToolBeforeInput{SessionID: p.SessionID, ToolID: def.ID, CallID: call.ID}
		if err := p.Plugins.RunToolBefore(ctx, in, before); err != nil {
			return p.finish(call, Errorf(err.Error()))
		}
		args = before.Args
	}

	// Handle resolution per the tool's input protocol.
	if res := p.resolveHandles(def, args); res != nil {
		return p.finish(call, res)
	}

	permName := permissionName(def)
	patterns, res := p.derivePatterns(def, args)
	if res != nil {
		p.Callbacks.blocked(call, def, res.Error)
		return p.finish(call, res)
	}

	// Plan mode: non-read-only tools are categorically unavailable.
	if p.PlanMode && !def.Metadata.ReadOnly {
		res := Errorf(fmt.Sprintf("tool %s is not available in plan mode; present a plan instead", def.ID))
		p.Callbacks.blocked(call, def, res.Error)
		return p.finish(call, res)
	}

	action := p.Ruleset.EvaluateAll(permName, patterns)
	requiresApproval := def.Metadata.RequiresApproval
	approvalReason := ""

	// Shell-specific checks.
	if def.ID == "bash" || def.Execution == ExecShell {
		if res := p.shellChecks(call, def, args, &requiresApproval, &approvalReason); res != nil {
			return p.finish(call, res)
		}
	}

	// Plugin permission override.
	if p.Plugins != nil {
		ask := &plugins.PermissionAskOutput{}
		in := plugins.PermissionAskInput{
			SessionID:  p.SessionID,
			Permission: permName,
			Patterns:   patterns,
			ToolID:     def.ID,
			CallID:     call.ID,
		}
		if err := p.Plugins.RunPermissionAsk(ctx, in, ask); err != nil {
			return p.finish(call, Errorf(err.Error()))
		}
		switch ask.Status {
		case "allow":
			action = permission.Allow
		case "ask":
			action = permission.Ask
		case "deny":
			action = permission.Deny
		}
	}

	if action == permission.Deny {
		res := Errorf(fmt.Sprintf("permission denied: %s %v", permName, patterns))
		p.Callbacks.blocked(call, def, res.Error)
		return p.finish(call, res)
	}

	if (action == permission.Ask || requiresApproval) && !p.AutoApprove {
		approved := false
		if p.Approval != nil {
			ok, err := p.Approval(ctx, ApprovalRequest{
				ToolID:     def.ID,
				CallID:     call.ID,
				Permission: permName,
				Patterns:   patterns,
				Args:       args,
				Reason:     approvalReason,
			})
			approved = ok && err == nil
		}
		if !approved {
			res := Errorf(RejectedMessage)
			p.Callbacks.blocked(call, def, res.Error)
			return p.finish(call, res)
		}
	}

	if err := ValidateArgs(def, args); err != nil {
		return p.finish(call, Errorf(err.Error()))
	}

	p.Callbacks.status("running")
	result := p.runHandler(ctx, def, args)

	p.decorate(def, result)
	p.capResult(result)

	// Plugin result rewrite.
	if p.Plugins != nil {
		after := &plugins.ToolAfterOutput{}
		if result.Metadata != nil {
			after.Title = result.Metadata.Title
			after.Output = result.Metadata.OutputText
		}
		in := plugins.ToolBeforeInput{SessionID: p.SessionID, ToolID: def.ID, CallID: call.ID}
		if err := p.Plugins.RunToolAfter(ctx, in, after); err != nil {
			p.log().Warn("tool.execute.after failed", "tool", def.ID, "error", err)
		} else if after.Title != "" || after.Output != "" {
			meta := result.Meta()
			if after.Title != "" {
				meta.Title = after.Title
			}
			if after.Output != "" {
				meta.OutputText = after.Output
			}
		}
	}

	return p.finish(call, result)
}

func (p *Pipeline) finish(call providers.ToolCall, res *Result) *Result {
	p.Callbacks.result(call, res)
	return res
}

func (p *Pipeline) runHandler(ctx context.Context, def *Definition, args map[string]any) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			p.log().Error("tool handler panic", "tool", def.ID, "panic", r)
			result = Errorf(fmt.Sprintf("tool %s failed: %v", def.ID, r))
		}
	}()

	if def.Handler == nil {
		return Errorf(fmt.Sprintf("tool %s has no handler", def.ID))
	}
	res := def.Handler(args, Context{
		Ctx:                ctx,
		WorkspaceRoot:      p.WorkspaceRoot,
		AllowExternalPaths: p.AllowExternalPaths || def.Metadata.SupportsExternalPaths,
		SessionID:          p.SessionID,
		Log:                p.log().With("tool", def.ID),
	})
	if res == nil {
		return Errorf(fmt.Sprintf("tool %s returned nothing", def.ID))
	}
	return res
}

// resolveHandles maps fileId/symbolId/matchId/locId args onto concrete paths
// and positions before permission derivation sees them.
func (p *Pipeline) resolveHandles(def *Definition, args map[string]any) *Result {
	if def.Metadata.Input.FileID {
		fileID := stringArg(args, "fileId")
		if fileID != "" && stringArg(args, "filePath") == "" {
			path := p.Files.Resolve(fileID)
			if path == "" {
				return Refusal(protocol.ErrUnknownFileID,
					fmt.Sprintf("unknown fileId %s. Run glob first to obtain fresh file ids.", fileID))
			}
			args["filePath"] = path
		}
	}

	if def.Metadata.Input.SemanticHandle {
		kinds := []struct {
			arg  string
			kind handles.Kind
			code protocol.ErrorCode
		}{
			{"symbolId", handles.KindSymbol, protocol.ErrUnknownSymbolID},
			{"matchId", handles.KindMatch, protocol.ErrUnknownMatchID},
			{"locId", handles.KindLoc, protocol.ErrUnknownLocID},
		}
		for _, k := range kinds {
			id := stringArg(args, k.arg)
			if id == "" {
				continue
			}
			h, ok := p.Semantic.Resolve(id, k.kind)
			if !ok {
				return Refusal(k.code, fmt.Sprintf("unknown %s %s. Re-run the search that produced it.", k.arg, id))
			}
			args["fileId"] = h.FileID
			if path := p.Files.Resolve(h.FileID); path != "" {
				args["filePath"] = path
			}
			p.defaultRangeArgs(def, args, h)
		}
	}
	return nil
}

// defaultRangeArgs fills position fields from the handle's range, but only
// for properties the schema declares and only when the caller did not supply
// a positive value of their own.
func (p *Pipeline) defaultRangeArgs(def *Definition, args map[string]any, h handles.Handle) {
	props := schemaProperties(def)
	set := func(name string, value int) {
		if !props[name] {
			return
		}
		if existing, ok := numberArg(args, name); ok && existing > 0 {
			return
		}
		args[name] = value
	}
	set("line", h.Range.Start.Line)
	set("character", h.Range.Start.Character)
	set("startLine", h.Range.Start.Line)
	set("endLine", h.Range.End.Line)
}

// permissionName derives the ruleset key for a tool. Edit-family tools share
// the "edit" permission so one rule covers them.
func permissionName(def *Definition) string {
	if def.Metadata.Permission != "" {
		return def.Metadata.Permission
	}
	switch def.ID {
	case "write", "edit", "multiedit", "patch":
		return "edit"
	}
	return def.ID
}

// derivePatterns applies the tool's extractors. Path-kind values go through
// the guard; an external path with external access disabled is itself a
// refusal.
func (p *Pipeline) derivePatterns(def *Definition, args map[string]any) ([]string, *Result) {
	var patterns []string
	for _, ex := range def.Metadata.PermissionPatterns {
		value := stringArg(args, ex.Arg)
		if value == "" {
			continue
		}
		switch ex.Kind {
		case PatternPath:
			resolved, err := p.Guard.Resolve(value)
			if err != nil {
				if def.Metadata.SupportsExternalPaths {
					patterns = append(patterns, value)
					continue
				}
				if ge, ok := err.(*workspace.GuardError); ok {
					res := Refusal(ge.Code, ge.Error())
					res.Meta().BlockedPaths = []string{ge.Path}
					return nil, res
				}
				return nil, Errorf(err.Error())
			}
			patterns = append(patterns, p.Guard.Normalize(resolved.AbsPath))
		case PatternCommand, PatternRaw:
			patterns = append(patterns, value)
		}
	}
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	return patterns, nil
}

// shellChecks runs the command-level policy: external-path scan, safety
// verdict, long-running heuristic.
func (p *Pipeline) shellChecks(call providers.ToolCall, def *Definition, args map[string]any, requiresApproval *bool, approvalReason *string) *Result {
	command := stringArg(args, "command")
	cwd := stringArg(args, "cwd")
	if cwd == "" {
		cwd = p.WorkspaceRoot
	}

	if !p.AllowExternalPaths {
		var blocked []string
		if _, external := p.Guard.Classify(cwd); external {
			blocked = append(blocked, cwd)
		}
		blocked = append(blocked, safety.FindExternalPathRefs(command, cwd, p.Guard)...)
		if len(blocked) > 0 {
			truncated := false
			if len(blocked) > maxBlockedPaths {
				blocked = blocked[:maxBlockedPaths]
				truncated = true
			}
			res := Refusal(protocol.ErrExternalPathsDisabled,
				"command references paths outside the workspace and external paths are disabled")
			res.Meta().BlockedPaths = blocked
			res.Meta().BlockedPathsTruncated = truncated
			p.Callbacks.blocked(call, def, res.Error)
			return res
		}
	}

	verdict := safety.Analyze(command)
	switch verdict.Action {
	case safety.Deny:
		res := Errorf(verdict.Reason)
		p.Callbacks.blocked(call, def, res.Error)
		return res
	case safety.NeedsApproval:
		*requiresApproval = true
		*approvalReason = verdict.Reason
	}

	if safety.IsLongRunning(command) {
		background := boolArg(args, "background")
		timeout, hasTimeout := numberArg(args, "timeout")
		if !background && (!hasTimeout || timeout <= 0) {
			res := Refusal(protocol.ErrBashRequiresBackgroundOrTimeout,
				"this command looks long-running; re-run it with background=true or a finite timeout")
			p.Callbacks.blocked(call, def, res.Error)
			return res
		}
	}
	return nil
}

// decorate rewrites structured output into the model-facing text tables the
// tool's output protocol declares.
func (p *Pipeline) decorate(def *Definition, res *Result) {
	if !res.Success || res.Data == nil {
		return
	}
	out := def.Metadata.Output
	switch {
	case out.Glob:
		if data, ok := res.Data.(handles.GlobData); ok {
			res.Meta().OutputText = handles.DecorateGlob(p.Files, data)
		}
	case out.Grep:
		if data, ok := res.Data.(handles.GrepData); ok {
			res.Meta().OutputText = handles.DecorateGrep(p.Files, p.Semantic, data)
		}
	case out.SymbolsSearch:
		if data, ok := res.Data.(handles.SymbolsData); ok {
			res.Meta().OutputText = handles.DecorateSymbolsSearch(p.Files, p.Semantic, data)
		}
	case out.SymbolsPeek:
		if data, ok := res.Data.(handles.SymbolsData); ok {
			res.Meta().OutputText = handles.DecorateSymbolsPeek(p.Files, p.Semantic, data)
		}
	}
}

// capResult enforces the formatted-output size limit.
func (p *Pipeline) capResult(res *Result) {
	text := FormatResult(res)
	if len(text) <= MaxToolResultLength {
		return
	}
	capped := text[:MaxToolResultLength] + "... [TRUNCATED]"
	res.Meta().OutputText = capped
	res.Meta().Truncated = true
}

// FormatResult renders the model-facing text for a result: explicit
// outputText wins, then error, then data.
func FormatResult(res *Result) string {
	if res.Metadata != nil && res.Metadata.OutputText != "" {
		return res.Metadata.OutputText
	}
	if !res.Success {
		if res.Error != "" {
			return "Error: " + res.Error
		}
		return "Error: tool failed"
	}
	switch data := res.Data.(type) {
	case nil:
		return "(no output)"
	case string:
		return data
	default:
		return fmt.Sprintf("%v", data)
	}
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func numberArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
