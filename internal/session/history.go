package session

import "fmt"

// PrunedPlaceholder replaces prunable tool-output bodies in the effective
// history. The persisted history keeps the full output for audit.
const PrunedPlaceholder = "[pruned]"

// History is the append-only message log of one session.
type History struct {
	Messages []*Message `json:"messages"`
}

// Push appends a message, first finalizing any prior streaming message so the
// log never holds two open messages.
func (h *History) Push(m *Message) error {
	if m.ID == "" {
		return fmt.Errorf("message has no id")
	}
	for _, existing := range h.Messages {
		if existing.ID == m.ID {
			return fmt.Errorf("duplicate message id %s", m.ID)
		}
	}
	if n := len(h.Messages); n > 0 && h.Messages[n-1].Streaming() {
		h.Messages[n-1].Finalize()
	}
	h.Messages = append(h.Messages, m)
	return nil
}

// Last returns the trailing message, nil when empty.
func (h *History) Last() *Message {
	if len(h.Messages) == 0 {
		return nil
	}
	return h.Messages[len(h.Messages)-1]
}

// LastOfRole returns the trailing message with the given role, nil if none.
func (h *History) LastOfRole(role string) *Message {
	for i := len(h.Messages) - 1; i >= 0; i-- {
		if h.Messages[i].Role == role {
			return h.Messages[i]
		}
	}
	return nil
}

// Remove deletes a message by id. Used only for compaction-marker rollback.
func (h *History) Remove(id string) bool {
	for i, m := range h.Messages {
		if m.ID == id {
			h.Messages = append(h.Messages[:i], h.Messages[i+1:]...)
			return true
		}
	}
	return false
}

// lastSummaryIndex finds the newest compaction summary message.
func (h *History) lastSummaryIndex() int {
	for i := len(h.Messages) - 1; i >= 0; i-- {
		if h.Messages[i].Metadata.Summary {
			return i
		}
	}
	return -1
}

// Effective derives the prompt-facing view: everything before the last
// compaction summary is tombstoned except the summary itself, and prunable
// tool outputs in the surviving prefix render as placeholders. Messages are
// copied shallowly; parts that change are copied before mutation.
func (h *History) Effective() []*Message {
	start := 0
	if idx := h.lastSummaryIndex(); idx >= 0 {
		start = idx
	}

	out := make([]*Message, 0, len(h.Messages)-start)
	for _, m := range h.Messages[start:] {
		out = append(out, pruneMessage(m))
	}
	return out
}

func pruneMessage(m *Message) *Message {
	needsCopy := false
	for _, p := range m.Parts {
		if p.Kind == PartDynamicTool && p.Prunable && p.Output != "" {
			needsCopy = true
			break
		}
	}
	if !needsCopy {
		return m
	}
	cp := *m
	cp.Parts = make([]Part, len(m.Parts))
	copy(cp.Parts, m.Parts)
	for i := range cp.Parts {
		p := &cp.Parts[i]
		if p.Kind == PartDynamicTool && p.Prunable && p.Output != "" {
			p.Output = PrunedPlaceholder
		}
	}
	return &cp
}

// MarkPrunableToolOutputs flags tool outputs in messages before the trailing
// assistant message once their accumulated size passes protectBytes, newest
// outputs protected first. Flagged bodies survive in storage; only prompt
// construction replaces them.
func (h *History) MarkPrunableToolOutputs(protectBytes int) {
	budget := protectBytes
	for i := len(h.Messages) - 1; i >= 0; i-- {
		m := h.Messages[i]
		if m.Role != RoleAssistant {
			continue
		}
		for _, p := range m.ToolParts() {
			if p.State != StateOutputAvailable || p.Output == "" {
				continue
			}
			if budget >= len(p.Output) {
				budget -= len(p.Output)
				continue
			}
			p.Prunable = true
		}
	}
}
