package session

import (
	"encoding/json"
	"strings"

	"github.com/nextlevelbuilder/clawcore/internal/providers"
)

// PrepareOptions controls the derived prompt view for one outbound call.
type PrepareOptions struct {
	// PlanMode appends the plan-mode contract reminder to the last user
	// message.
	PlanMode bool

	// BuildSwitch appends the build-switch notice when the session just left
	// plan mode.
	BuildSwitch bool

	// AllowExternalPaths selects which external-paths reminder to emit.
	AllowExternalPaths bool

	// IncludeReasoning attaches reasoning passback for providers that accept
	// thinking blocks.
	IncludeReasoning bool
}

const planModeReminder = `<system-reminder>
Plan mode is active. Only read-only tools are available: read, ls, glob,
grep, symbols_search, symbols_peek. Do not edit files or run commands that
change state. When you have enough information, reply with a numbered plan
for the user to approve.
</system-reminder>`

const buildSwitchReminder = `<system-reminder>
The user has switched from plan mode to build mode. Previously you could only
plan; all tools are now available. Carry out the approved plan.
</system-reminder>`

const externalPathsOnReminder = `<system-reminder>
Access to paths outside the workspace is enabled for this session.
</system-reminder>`

const externalPathsOffReminder = `<system-reminder>
Access to paths outside the workspace is disabled. Tool calls referencing
external paths will be refused.
</system-reminder>`

// reminderText builds the reminder block for this turn. Reminders are
// materialized for the outbound prompt only, never stored in history.
func reminderText(opts PrepareOptions) string {
	var blocks []string
	if opts.PlanMode {
		blocks = append(blocks, planModeReminder)
	}
	if opts.BuildSwitch {
		blocks = append(blocks, buildSwitchReminder)
	}
	if opts.AllowExternalPaths {
		blocks = append(blocks, externalPathsOnReminder)
	} else {
		blocks = append(blocks, externalPathsOffReminder)
	}
	return strings.Join(blocks, "\n")
}

// HistoryForModel converts the effective history into provider messages.
// Dynamic-tool parts split into an assistant tool-call plus a trailing tool
// message per call; the mode reminder attaches to the last user message.
func HistoryForModel(effective []*Message, opts PrepareOptions) []providers.Message {
	// Any role that converts to a user wire message can carry the reminder;
	// right after compaction the only candidate is the auto-continue message.
	lastUser := -1
	for i := len(effective) - 1; i >= 0; i-- {
		switch effective[i].Role {
		case RoleUser, RoleCompactionMarker, RoleAutoContinue:
			lastUser = i
		}
		if lastUser >= 0 {
			break
		}
	}
	reminder := reminderText(opts)

	var out []providers.Message
	for i, m := range effective {
		switch m.Role {
		case RoleSystem:
			out = append(out, providers.Message{Role: "system", Content: m.Text()})

		case RoleUser, RoleCompactionMarker, RoleAutoContinue:
			content := m.Text()
			if i == lastUser && reminder != "" {
				if content != "" {
					content += "\n\n"
				}
				content += reminder
			}
			out = append(out, providers.Message{Role: "user", Content: content})

		case RoleAssistant:
			msg := providers.Message{Role: "assistant", Content: m.Text()}
			if opts.IncludeReasoning {
				msg.Reasoning = m.Reasoning()
				if len(m.Metadata.Replay) > 0 {
					msg.ReplayMeta = map[string]json.RawMessage{}
					for ns, payload := range m.Metadata.Replay {
						msg.ReplayMeta[ns] = payload
					}
				}
			}
			var results []providers.Message
			for _, p := range m.ToolParts() {
				msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
					ID:        p.ToolCallID,
					Name:      p.ToolName,
					Arguments: p.Input,
				})
				results = append(results, providers.Message{
					Role:       "tool",
					ToolCallID: p.ToolCallID,
					Content:    toolResultContent(p),
				})
			}
			if msg.Content == "" && msg.Reasoning == "" && len(msg.ToolCalls) == 0 {
				continue
			}
			out = append(out, msg)
			out = append(out, results...)
		}
	}
	return out
}

// toolResultContent renders the model-facing body for a finished tool part.
// Calls that never produced output get a synthetic placeholder so the wire
// protocol's call/result pairing holds.
func toolResultContent(p *Part) string {
	switch p.State {
	case StateError:
		if p.ErrorText != "" {
			return "Error: " + p.ErrorText
		}
		return "Error: tool failed"
	case StateOutputAvailable:
		if p.Output == "" {
			return "(no output)"
		}
		return p.Output
	default:
		return "(tool call was interrupted)"
	}
}
