package tools

import (
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/clawcore/internal/providers"
)

// Registry holds tool definitions by id. Read-only after session start;
// registration happens during bootstrap.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition, rejecting duplicate ids.
func (r *Registry) Register(def *Definition) error {
	if def.ID == "" {
		return fmt.Errorf("tool has no id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("tool %q already registered", def.ID)
	}
	if def.Name == "" {
		def.Name = def.ID
	}
	r.defs[def.ID] = def
	return nil
}

// Get returns the definition for id, nil when unknown.
func (r *Registry) Get(id string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defs[id]
}

// IDs returns every registered id, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IDSet returns the ids as a set, used for plugin collision checks.
func (r *Registry) IDSet() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]bool, len(r.defs))
	for id := range r.defs {
		set[id] = true
	}
	return set
}

// Filter returns definitions whose ids match any of the glob patterns, in
// sorted id order. Empty patterns means everything.
func (r *Registry) Filter(patterns []string) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Definition
	for _, id := range r.idsLocked() {
		if len(patterns) == 0 || matchAny(patterns, id) {
			out = append(out, r.defs[id])
		}
	}
	return out
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func matchAny(patterns []string, id string) bool {
	for _, p := range patterns {
		if p == "*" || p == id {
			return true
		}
		if ok, err := path.Match(p, id); err == nil && ok {
			return true
		}
	}
	return false
}

// ProviderDefinitions converts definitions into the wire shape offered to
// the model.
func ProviderDefinitions(defs []*Definition) []providers.ToolDefinition {
	out := make([]providers.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
