package providers

import (
	"encoding/json"
	"fmt"
)

// ReplayUpdate is an opaque payload an adapter wants attached to the
// finished assistant message under its namespace.
type ReplayUpdate struct {
	Namespace string
	Payload   json.RawMessage
}

// StreamAdapter filters one provider's raw stream. Adapters observe every
// part, decide whether an error part after a clean finish is a benign
// artifact, and may contribute at most one replay update per stream.
type StreamAdapter interface {
	// Namespace is the replay-metadata key this adapter owns. Distinct per
	// adapter; composition fails on collision.
	Namespace() string

	// ObservePart is called for every stream part before loop dispatch.
	ObservePart(part *StreamPart)

	// Recoverable reports whether an error part can be swallowed. sawFinish
	// is true when a finish part already arrived on this stream.
	Recoverable(part StreamPart, sawFinish bool) bool

	// ReplayUpdate returns the accumulated replay payload, ok=false when the
	// stream produced none.
	ReplayUpdate() (ReplayUpdate, bool)
}

// ComposedAdapter fans ObservePart out to all members and collects their
// replay updates. Construction fails when two members claim one namespace.
type ComposedAdapter struct {
	members []StreamAdapter
}

func Compose(adapters ...StreamAdapter) (*ComposedAdapter, error) {
	seen := make(map[string]bool, len(adapters))
	for _, a := range adapters {
		ns := a.Namespace()
		if seen[ns] {
			return nil, fmt.Errorf("stream adapter namespace collision: %q", ns)
		}
		seen[ns] = true
	}
	return &ComposedAdapter{members: adapters}, nil
}

func (c *ComposedAdapter) ObservePart(part *StreamPart) {
	for _, a := range c.members {
		a.ObservePart(part)
	}
}

// Recoverable is true when any member recognizes the error part as benign.
func (c *ComposedAdapter) Recoverable(part StreamPart, sawFinish bool) bool {
	for _, a := range c.members {
		if a.Recoverable(part, sawFinish) {
			return true
		}
	}
	return false
}

// ReplayUpdates returns every member's update, one per claimed namespace.
func (c *ComposedAdapter) ReplayUpdates() []ReplayUpdate {
	var updates []ReplayUpdate
	for _, a := range c.members {
		if u, ok := a.ReplayUpdate(); ok {
			updates = append(updates, u)
		}
	}
	return updates
}

// AnthropicAdapter captures thinking-block signatures for replay so a later
// turn can pass redacted reasoning back to the API.
type AnthropicAdapter struct {
	signatures []json.RawMessage
}

func NewAnthropicAdapter() *AnthropicAdapter { return &AnthropicAdapter{} }

func (a *AnthropicAdapter) Namespace() string { return "anthropic" }

func (a *AnthropicAdapter) ObservePart(part *StreamPart) {
	if len(part.Raw) == 0 {
		return
	}
	var probe struct {
		Type  string `json:"type"`
		Delta struct {
			Type      string `json:"type"`
			Signature string `json:"signature"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(part.Raw, &probe); err != nil {
		return
	}
	if probe.Delta.Type == "signature_delta" && probe.Delta.Signature != "" {
		a.signatures = append(a.signatures, part.Raw)
	}
}

// Recoverable: the Anthropic SSE stream occasionally emits a trailing error
// frame after message_stop; it carries no content and is safe to drop.
func (a *AnthropicAdapter) Recoverable(part StreamPart, sawFinish bool) bool {
	return part.Type == PartError && sawFinish
}

func (a *AnthropicAdapter) ReplayUpdate() (ReplayUpdate, bool) {
	if len(a.signatures) == 0 {
		return ReplayUpdate{}, false
	}
	payload, err := json.Marshal(a.signatures)
	if err != nil {
		return ReplayUpdate{}, false
	}
	return ReplayUpdate{Namespace: a.Namespace(), Payload: payload}, true
}

// OpenAIAdapter tolerates the spurious error frames some OpenAI-compatible
// gateways append after [DONE].
type OpenAIAdapter struct{}

func NewOpenAIAdapter() *OpenAIAdapter { return &OpenAIAdapter{} }

func (o *OpenAIAdapter) Namespace() string                  { return "openai" }
func (o *OpenAIAdapter) ObservePart(p *StreamPart)          {}
func (o *OpenAIAdapter) ReplayUpdate() (ReplayUpdate, bool) { return ReplayUpdate{}, false }

func (o *OpenAIAdapter) Recoverable(part StreamPart, sawFinish bool) bool {
	return part.Type == PartError && sawFinish
}
