package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

// Behavior captures the per-provider knobs the agent loop consults before
// building a request.
type Behavior struct {
	// SupportsReasoning: reasoning passback is included in assistant
	// messages sent to this provider.
	SupportsReasoning bool

	// NewAdapters builds fresh stream adapters for one call. Adapters are
	// stateful per stream and must not be shared.
	NewAdapters func() []StreamAdapter
}

// ModelError is a model-resolution failure carrying a protocol error code.
type ModelError struct {
	Code  protocol.ErrorCode
	Model string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s: model %q", e.Code, e.Model)
}

// Registry maps model ids to providers. Model ids use the
// "<provider>/<model>" form; a bare model id resolves through registered
// prefixes, then falls back to the default provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	behaviors map[string]Behavior
	prefixes  map[string]string // model-id prefix -> provider name
	fallback  string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		behaviors: make(map[string]Behavior),
		prefixes:  make(map[string]string),
	}
}

// Register adds a provider under its Name. The first registered provider
// becomes the fallback for bare model ids.
func (r *Registry) Register(p Provider, b Behavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	r.providers[name] = p
	r.behaviors[name] = b
	if r.fallback == "" {
		r.fallback = name
	}
}

// RegisterPrefix routes bare model ids starting with prefix to the named
// provider ("claude-" -> "anthropic").
func (r *Registry) RegisterPrefix(prefix, providerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes[prefix] = providerName
}

// SetFallback overrides the default provider for bare model ids.
func (r *Registry) SetFallback(providerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = providerName
}

// Resolve maps a model id to its provider, behavior, and the bare model name
// to send on the wire. An empty id resolves to the fallback provider's
// default model. Unresolvable ids fail with the missing_model code.
func (r *Registry) Resolve(modelID string) (Provider, Behavior, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if modelID == "" {
		if p, ok := r.providers[r.fallback]; ok {
			return p, r.behaviors[r.fallback], p.DefaultModel(), nil
		}
		return nil, Behavior{}, "", &ModelError{Code: protocol.ErrMissingModel, Model: modelID}
	}

	if name, model, ok := strings.Cut(modelID, "/"); ok {
		if p, found := r.providers[name]; found {
			if model == "" {
				model = p.DefaultModel()
			}
			return p, r.behaviors[name], model, nil
		}
		return nil, Behavior{}, "", &ModelError{Code: protocol.ErrMissingModel, Model: modelID}
	}

	// Longest-prefix match keeps "claude-3" and "claude-sonnet" routable to
	// different providers if configured that way.
	var bestPrefix, bestName string
	for prefix, name := range r.prefixes {
		if strings.HasPrefix(modelID, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix, bestName = prefix, name
		}
	}
	if bestName != "" {
		if p, found := r.providers[bestName]; found {
			return p, r.behaviors[bestName], modelID, nil
		}
	}

	if p, ok := r.providers[r.fallback]; ok {
		return p, r.behaviors[r.fallback], modelID, nil
	}
	return nil, Behavior{}, "", &ModelError{Code: protocol.ErrMissingModel, Model: modelID}
}

// Names lists registered providers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry wires the stock providers from API keys. Providers with an
// empty key are skipped.
func DefaultRegistry(anthropicKey, openAIKey string) *Registry {
	r := NewRegistry()
	if anthropicKey != "" {
		r.Register(NewAnthropicProvider(anthropicKey), Behavior{
			SupportsReasoning: true,
			NewAdapters: func() []StreamAdapter {
				return []StreamAdapter{NewAnthropicAdapter()}
			},
		})
		r.RegisterPrefix("claude-", "anthropic")
	}
	if openAIKey != "" {
		r.Register(NewOpenAIProvider(openAIKey), Behavior{
			NewAdapters: func() []StreamAdapter {
				return []StreamAdapter{NewOpenAIAdapter()}
			},
		})
		r.RegisterPrefix("gpt-", "openai")
		r.RegisterPrefix("o1", "openai")
		r.RegisterPrefix("o3", "openai")
	}
	return r
}
