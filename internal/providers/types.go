// Package providers contains the chat-completion transports and the tagged
// stream-part model the agent loop consumes. Each provider runs one
// goroutine per stream that reads transport frames and pushes parts onto a
// channel; cancelling the context closes the transport and drains the
// channel.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Provider is the interface all LLM transports implement.
type Provider interface {
	// Stream opens a streaming chat-completion call. Parts arrive on the
	// returned Stream until the provider finishes or errors.
	Stream(ctx context.Context, req Request) (*Stream, error)

	// DefaultModel returns the provider's default model id.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// Request is the input for one streaming call.
type Request struct {
	Model           string           `json:"model,omitempty"`
	Messages        []Message        `json:"messages"`
	Tools           []ToolDefinition `json:"tools,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	TopP            *float64         `json:"top_p,omitempty"`
	TopK            *int             `json:"top_k,omitempty"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
	ProviderOptions map[string]any   `json:"provider_options,omitempty"`
}

// Message is a model-ready conversation message.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	Reasoning  string     `json:"reasoning,omitempty"` // passback for reasoning-capable providers
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool" responses

	// ReplayMeta carries provider-specific opaque payloads keyed by adapter
	// namespace (e.g. thinking-block signatures) so a later turn can rebuild
	// the model's hidden inputs.
	ReplayMeta map[string]json.RawMessage `json:"replay_meta,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the schema for a function tool.
type ToolFunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage tracks token consumption for one generation.
type Usage struct {
	InputTotal   int `json:"inputTotal"`
	InputNoCache int `json:"inputNoCache"`
	CacheRead    int `json:"cacheRead"`
	CacheWrite   int `json:"cacheWrite"`
	OutputTotal  int `json:"outputTotal"`
}

// Add accumulates another generation's usage.
func (u *Usage) Add(o Usage) {
	u.InputTotal += o.InputTotal
	u.InputNoCache += o.InputNoCache
	u.CacheRead += o.CacheRead
	u.CacheWrite += o.CacheWrite
	u.OutputTotal += o.OutputTotal
}

// PartType tags one element of the model stream.
type PartType string

const (
	PartTextDelta      PartType = "text-delta"
	PartReasoningDelta PartType = "reasoning-delta"
	PartToolCall       PartType = "tool-call"
	PartToolResult     PartType = "tool-result"
	PartToolError      PartType = "tool-error"
	PartFinishStep     PartType = "finish-step"
	PartFinish         PartType = "finish"
	PartError          PartType = "error"
)

// StreamPart is one tagged element of the model stream. Only the fields for
// the tagged type are set.
type StreamPart struct {
	Type PartType

	Text         string          // text-delta, reasoning-delta
	ToolCall     *ToolCall       // tool-call
	ToolCallID   string          // tool-result, tool-error
	Result       json.RawMessage // tool-result (provider-executed tools)
	ErrorText    string          // tool-error
	Err          error           // error
	FinishReason string          // finish, finish-step
	Usage        *Usage          // finish

	// Raw is the provider event payload, offered to stream adapters for
	// replay-metadata extraction. Never inspected by the loop itself.
	Raw json.RawMessage
}

// Stream is the consumer side of one streaming call. Parts() closes when the
// stream ends; FinishReason/Usage/Err are valid after that.
type Stream struct {
	parts        chan StreamPart
	finishReason string
	usage        Usage
	err          error
}

func newStream(buffer int) *Stream {
	return &Stream{parts: make(chan StreamPart, buffer)}
}

// NewStaticStream builds a pre-filled stream. Used by in-memory providers
// and tests; the channel is already closed when this returns.
func NewStaticStream(parts []StreamPart, finishReason string, usage Usage) *Stream {
	s := &Stream{
		parts:        make(chan StreamPart, len(parts)),
		finishReason: finishReason,
		usage:        usage,
	}
	for _, p := range parts {
		s.parts <- p
	}
	close(s.parts)
	return s
}

// Parts returns the part channel. The producer goroutine closes it.
func (s *Stream) Parts() <-chan StreamPart { return s.parts }

// FinishReason is the terminal reason ("stop", "tool-calls", "length", ...).
func (s *Stream) FinishReason() string { return s.finishReason }

// Usage is the terminal token usage.
func (s *Stream) Usage() Usage { return s.usage }

// Err is the terminal stream error, nil on clean finish.
func (s *Stream) Err() error { return s.err }

// APIError is an HTTP-level provider failure with retry metadata.
type APIError struct {
	Provider   string
	Status     int
	RetryAfter time.Duration // from Retry-After, 0 when absent
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, truncate(e.Body, 200))
}

// Retriable reports whether the failure is transient: request timeout, rate
// limit, or server-side error.
func (e *APIError) Retriable() bool {
	return e.Status == 408 || e.Status == 429 || e.Status >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
