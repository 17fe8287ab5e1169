// Package session holds the per-conversation state the turn loop mutates:
// message history, handle registries, and the derived views sent to models.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawcore/internal/providers"
)

// Roles a message can carry. Synthetic roles mark compaction machinery.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	RoleCompactionMarker = "compaction-marker"
	RoleAutoContinue     = "auto-continue"
)

// Part states.
const (
	StateStreaming       = "streaming"
	StateDone            = "done"
	StateCall            = "call"
	StateOutputAvailable = "output-available"
	StateError           = "error"
)

// Part kinds.
const (
	PartText        = "text"
	PartReasoning   = "reasoning"
	PartDynamicTool = "dynamic-tool"
)

// Part is one tagged element of a message. Only the fields for its Kind are
// meaningful.
type Part struct {
	Kind  string `json:"kind"`
	State string `json:"state"`

	// text / reasoning
	Text string `json:"text,omitempty"`

	// dynamic-tool
	ToolName   string         `json:"toolName,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     string         `json:"output,omitempty"`
	ErrorText  string         `json:"errorText,omitempty"`

	// Prunable marks a tool output whose body compaction may replace with a
	// placeholder in prompt construction. The stored Output is never touched.
	Prunable bool `json:"prunable,omitempty"`
}

// Metadata annotates a message after its generation completes.
type Metadata struct {
	Tokens     *providers.Usage           `json:"tokens,omitempty"`
	Summary    bool                       `json:"summary,omitempty"`
	Replay     map[string]json.RawMessage `json:"replay,omitempty"`
	FinishedBy string                     `json:"finishedBy,omitempty"` // finishReason of the producing call
}

// Message is one history entry. Append-only; only the trailing assistant
// message under construction mutates.
type Message struct {
	ID       string   `json:"id"`
	Role     string   `json:"role"`
	Parts    []Part   `json:"parts"`
	Metadata Metadata `json:"metadata"`
	TurnID   string   `json:"turnId,omitempty"`
}

// NewMessage creates an empty message with a fresh id.
func NewMessage(role string) *Message {
	return &Message{ID: uuid.NewString(), Role: role}
}

// NewTextMessage creates a finalized single-text-part message.
func NewTextMessage(role, text string) *Message {
	m := NewMessage(role)
	m.Parts = append(m.Parts, Part{Kind: PartText, State: StateDone, Text: text})
	return m
}

// Streaming reports whether any part is still open.
func (m *Message) Streaming() bool {
	for _, p := range m.Parts {
		if p.State == StateStreaming {
			return true
		}
	}
	return false
}

// Finalize closes every streaming part.
func (m *Message) Finalize() {
	for i := range m.Parts {
		if m.Parts[i].State == StateStreaming {
			m.Parts[i].State = StateDone
		}
	}
}

// Text concatenates the message's finalized text parts.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// Reasoning concatenates the message's reasoning parts.
func (m *Message) Reasoning() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartReasoning {
			out += p.Text
		}
	}
	return out
}

// ToolParts returns pointers to the message's dynamic-tool parts in order.
func (m *Message) ToolParts() []*Part {
	var parts []*Part
	for i := range m.Parts {
		if m.Parts[i].Kind == PartDynamicTool {
			parts = append(parts, &m.Parts[i])
		}
	}
	return parts
}

// FindToolPart locates the dynamic-tool part for a tool call id.
func (m *Message) FindToolPart(toolCallID string) (*Part, error) {
	for i := range m.Parts {
		if m.Parts[i].Kind == PartDynamicTool && m.Parts[i].ToolCallID == toolCallID {
			return &m.Parts[i], nil
		}
	}
	return nil, fmt.Errorf("no tool part for call %q in message %s", toolCallID, m.ID)
}
