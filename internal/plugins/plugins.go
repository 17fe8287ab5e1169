// Package plugins defines the hook surface third-party extensions attach to
// and the registry the turn loop folds them through. Hooks run in
// registration order; each may mutate the shared output value.
package plugins

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Hook names the core invokes.
const (
	HookChatParams        = "chat.params"
	HookSystemTransform   = "experimental.chat.system.transform"
	HookMessagesTransform = "experimental.chat.messages.transform"
	HookToolBefore        = "tool.execute.before"
	HookPermissionAsk     = "permission.ask"
	HookToolAfter         = "tool.execute.after"
	HookSessionCompacting = "experimental.session.compacting"
	HookTextComplete      = "experimental.text.complete"
	HookChatComplete      = "experimental.chat.complete"
)

// ChatParams is mutated by chat.params hooks.
type ChatParams struct {
	Temperature *float64
	TopP        *float64
	TopK        *int
	Options     map[string]any
}

// SystemTransformOutput is mutated by system-transform hooks.
type SystemTransformOutput struct {
	Parts []string
}

// MessagesTransformOutput carries history-shaped messages as loose maps so
// plugins can rewrite them without importing the session model.
type MessagesTransformOutput struct {
	Messages []map[string]any
}

// ToolBeforeInput identifies the call about to execute.
type ToolBeforeInput struct {
	SessionID string
	ToolID    string
	CallID    string
}

// ToolBeforeOutput is mutated by tool.execute.before hooks.
type ToolBeforeOutput struct {
	Args map[string]any
}

// PermissionAskInput describes the pending permission decision.
type PermissionAskInput struct {
	SessionID  string
	Permission string
	Patterns   []string
	ToolID     string
	CallID     string
}

// PermissionAskOutput lets a hook pre-empt the interactive prompt. Status is
// one of "allow", "ask", "deny"; empty leaves the decision untouched.
type PermissionAskOutput struct {
	Status string
}

// ToolAfterOutput is mutated by tool.execute.after hooks.
type ToolAfterOutput struct {
	Title    string
	Output   string
	Metadata map[string]any
}

// CompactingOutput is mutated by session-compacting hooks.
type CompactingOutput struct {
	ExtraContext []string
	Prompt       string // empty keeps the default compaction prompt
}

// TextCompleteOutput is mutated by text.complete hooks.
type TextCompleteOutput struct {
	Text string
}

// ChatCompleteInput is the terminal notification payload.
type ChatCompleteInput struct {
	SessionID string
	Text      string
}

// Hooks is one plugin's contribution. Nil fields are skipped.
type Hooks struct {
	ChatParams        func(ctx context.Context, out *ChatParams) error
	SystemTransform   func(ctx context.Context, out *SystemTransformOutput) error
	MessagesTransform func(ctx context.Context, out *MessagesTransformOutput) error
	ToolBefore        func(ctx context.Context, in ToolBeforeInput, out *ToolBeforeOutput) error
	PermissionAsk     func(ctx context.Context, in PermissionAskInput, out *PermissionAskOutput) error
	ToolAfter         func(ctx context.Context, in ToolBeforeInput, out *ToolAfterOutput) error
	SessionCompacting func(ctx context.Context, sessionID string, out *CompactingOutput) error
	TextComplete      func(ctx context.Context, sessionID string, out *TextCompleteOutput) error
	ChatComplete      func(ctx context.Context, in ChatCompleteInput) error
}

// ToolContribution is a tool definition a plugin offers, kept opaque here so
// the tools package owns the concrete type.
type ToolContribution struct {
	ID   string
	Tool any
}

// Plugin couples a name with hooks and optional tool contributions.
type Plugin struct {
	Name  string
	Hooks Hooks
	Tools []ToolContribution
}

// Registry holds registered plugins in order.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a plugin. Duplicate plugin names are rejected.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.plugins {
		if existing.Name == p.Name {
			return fmt.Errorf("plugin %q already registered", p.Name)
		}
	}
	r.plugins = append(r.plugins, p)
	return nil
}

// CollectTools gathers every plugin tool, failing on id collisions between
// plugins or with the supplied builtin id set.
func (r *Registry) CollectTools(builtinIDs map[string]bool) ([]ToolContribution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]string) // tool id -> plugin name
	var out []ToolContribution
	for _, p := range r.plugins {
		for _, tc := range p.Tools {
			if builtinIDs[tc.ID] {
				return nil, fmt.Errorf("plugin tool id collision: %q from plugin %q shadows a builtin", tc.ID, p.Name)
			}
			if prev, dup := seen[tc.ID]; dup {
				return nil, fmt.Errorf("plugin tool id collision: %q claimed by plugins %q and %q", tc.ID, prev, p.Name)
			}
			seen[tc.ID] = p.Name
			out = append(out, tc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Fold-style runners. Each threads the mutable output through every plugin
// that implements the hook; the first error aborts.

func (r *Registry) RunChatParams(ctx context.Context, out *ChatParams) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Hooks.ChatParams == nil {
			continue
		}
		if err := p.Hooks.ChatParams(ctx, out); err != nil {
			return fmt.Errorf("plugin %s: %s: %w", p.Name, HookChatParams, err)
		}
	}
	return nil
}

func (r *Registry) RunSystemTransform(ctx context.Context, out *SystemTransformOutput) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Hooks.SystemTransform == nil {
			continue
		}
		if err := p.Hooks.SystemTransform(ctx, out); err != nil {
			return fmt.Errorf("plugin %s: %s: %w", p.Name, HookSystemTransform, err)
		}
	}
	return nil
}

func (r *Registry) RunMessagesTransform(ctx context.Context, out *MessagesTransformOutput) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Hooks.MessagesTransform == nil {
			continue
		}
		if err := p.Hooks.MessagesTransform(ctx, out); err != nil {
			return fmt.Errorf("plugin %s: %s: %w", p.Name, HookMessagesTransform, err)
		}
	}
	return nil
}

func (r *Registry) RunToolBefore(ctx context.Context, in ToolBeforeInput, out *ToolBeforeOutput) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Hooks.ToolBefore == nil {
			continue
		}
		if err := p.Hooks.ToolBefore(ctx, in, out); err != nil {
			return fmt.Errorf("plugin %s: %s: %w", p.Name, HookToolBefore, err)
		}
	}
	return nil
}

func (r *Registry) RunPermissionAsk(ctx context.Context, in PermissionAskInput, out *PermissionAskOutput) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Hooks.PermissionAsk == nil {
			continue
		}
		if err := p.Hooks.PermissionAsk(ctx, in, out); err != nil {
			return fmt.Errorf("plugin %s: %s: %w", p.Name, HookPermissionAsk, err)
		}
	}
	return nil
}

func (r *Registry) RunToolAfter(ctx context.Context, in ToolBeforeInput, out *ToolAfterOutput) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Hooks.ToolAfter == nil {
			continue
		}
		if err := p.Hooks.ToolAfter(ctx, in, out); err != nil {
			return fmt.Errorf("plugin %s: %s: %w", p.Name, HookToolAfter, err)
		}
	}
	return nil
}

func (r *Registry) RunSessionCompacting(ctx context.Context, sessionID string, out *CompactingOutput) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Hooks.SessionCompacting == nil {
			continue
		}
		if err := p.Hooks.SessionCompacting(ctx, sessionID, out); err != nil {
			return fmt.Errorf("plugin %s: %s: %w", p.Name, HookSessionCompacting, err)
		}
	}
	return nil
}

func (r *Registry) RunTextComplete(ctx context.Context, sessionID string, out *TextCompleteOutput) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Hooks.TextComplete == nil {
			continue
		}
		if err := p.Hooks.TextComplete(ctx, sessionID, out); err != nil {
			return fmt.Errorf("plugin %s: %s: %w", p.Name, HookTextComplete, err)
		}
	}
	return nil
}

func (r *Registry) RunChatComplete(ctx context.Context, in ChatCompleteInput) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Hooks.ChatComplete == nil {
			continue
		}
		// Terminal notification: errors are deliberately dropped.
		_ = p.Hooks.ChatComplete(ctx, in)
	}
}
