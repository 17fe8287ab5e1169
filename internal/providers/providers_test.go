package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

type fakeProvider struct {
	name  string
	model string
}

func (f *fakeProvider) Stream(ctx context.Context, req Request) (*Stream, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeProvider) DefaultModel() string { return f.model }
func (f *fakeProvider) Name() string         { return f.name }

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "anthropic", model: "claude-sonnet-4-5-20250929"}, Behavior{SupportsReasoning: true})
	r.Register(&fakeProvider{name: "openai", model: "gpt-4o"}, Behavior{})
	r.RegisterPrefix("claude-", "anthropic")
	r.RegisterPrefix("gpt-", "openai")

	tests := []struct {
		name      string
		modelID   string
		wantProv  string
		wantModel string
	}{
		{"empty id falls back to first provider default", "", "anthropic", "claude-sonnet-4-5-20250929"},
		{"qualified id", "openai/gpt-4o-mini", "openai", "gpt-4o-mini"},
		{"qualified id with empty model", "openai/", "openai", "gpt-4o"},
		{"prefix routing", "gpt-4.1", "openai", "gpt-4.1"},
		{"unknown bare id falls back", "mystery-model", "anthropic", "mystery-model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, model, err := r.Resolve(tt.modelID)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.modelID, err)
			}
			if p.Name() != tt.wantProv {
				t.Errorf("provider = %q, want %q", p.Name(), tt.wantProv)
			}
			if model != tt.wantModel {
				t.Errorf("model = %q, want %q", model, tt.wantModel)
			}
		})
	}
}

func TestRegistryResolveMissingModel(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "anthropic", model: "claude-sonnet-4-5-20250929"}, Behavior{})

	_, _, _, err := r.Resolve("nonexistent/whatever")
	var me *ModelError
	if !errors.As(err, &me) {
		t.Fatalf("expected ModelError, got %v", err)
	}
	if me.Code != protocol.ErrMissingModel {
		t.Errorf("code = %q, want %q", me.Code, protocol.ErrMissingModel)
	}
}

func TestRegistryResolveEmpty(t *testing.T) {
	r := NewRegistry()
	if _, _, _, err := r.Resolve(""); err == nil {
		t.Fatal("expected error from empty registry")
	}
}

func TestAPIErrorRetriable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{400, false},
		{401, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		e := &APIError{Provider: "anthropic", Status: tt.status}
		if got := e.Retriable(); got != tt.want {
			t.Errorf("status %d: Retriable() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestRetriableClassification(t *testing.T) {
	if Retriable(context.Canceled) {
		t.Error("context.Canceled must not retry")
	}
	if Retriable(errors.New("boom")) {
		t.Error("plain errors must not retry")
	}
	if !Retriable(&APIError{Status: 429}) {
		t.Error("429 must retry")
	}
}

func TestRetryDelayHonorsRetryAfter(t *testing.T) {
	cfg := DefaultRetryConfig()
	if d := cfg.Delay(1, 5*time.Second); d != 5*time.Second {
		t.Errorf("Delay with Retry-After = %v, want 5s", d)
	}
	if d := cfg.Delay(1, time.Hour); d != cfg.MaxDelay {
		t.Errorf("Delay caps Retry-After at MaxDelay, got %v", d)
	}
	// Without Retry-After the delay stays within jitter bounds.
	for attempt := 1; attempt <= 3; attempt++ {
		base := cfg.BaseDelay << (attempt - 1)
		d := cfg.Delay(attempt, 0)
		if d < base*3/4 || d > base*5/4 {
			t.Errorf("attempt %d: delay %v outside jitter bounds of %v", attempt, d, base)
		}
	}
}

func TestRetryDoStopsOnFatal(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() (int, error) {
		calls++
		return 0, &APIError{Status: 400}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (400 is fatal)", calls)
	}
}

func TestRetryDoRetriesTransient(t *testing.T) {
	calls := 0
	v, err := RetryDo(context.Background(), RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, &APIError{Status: 503}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("RetryDo: %v", err)
	}
	if v != 42 || calls != 3 {
		t.Errorf("v=%d calls=%d, want 42 after 3 calls", v, calls)
	}
}

func TestComposeNamespaceCollision(t *testing.T) {
	if _, err := Compose(NewAnthropicAdapter(), NewAnthropicAdapter()); err == nil {
		t.Fatal("expected namespace collision error")
	}
	c, err := Compose(NewAnthropicAdapter(), NewOpenAIAdapter())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if c.Recoverable(StreamPart{Type: PartError}, false) {
		t.Error("error before finish must not be recoverable")
	}
	if !c.Recoverable(StreamPart{Type: PartError}, true) {
		t.Error("error after finish should be recoverable")
	}
}

func TestAnthropicAdapterSignatureCapture(t *testing.T) {
	a := NewAnthropicAdapter()
	raw := json.RawMessage(`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"abc123"}}`)
	a.ObservePart(&StreamPart{Type: PartReasoningDelta, Raw: raw})
	a.ObservePart(&StreamPart{Type: PartTextDelta, Text: "hi"})

	u, ok := a.ReplayUpdate()
	if !ok {
		t.Fatal("expected a replay update")
	}
	if u.Namespace != "anthropic" {
		t.Errorf("namespace = %q", u.Namespace)
	}
	var sigs []json.RawMessage
	if err := json.Unmarshal(u.Payload, &sigs); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(sigs) != 1 {
		t.Errorf("captured %d signatures, want 1", len(sigs))
	}
}

// countingBody reports EOF immediately and signals once both the reader's
// deferred close and the context watcher's close have run.
type countingBody struct {
	mu      sync.Mutex
	closes  int
	watched chan struct{}
}

func newCountingBody() *countingBody {
	return &countingBody{watched: make(chan struct{})}
}

func (c *countingBody) Read(p []byte) (int, error) { return 0, io.EOF }

func (c *countingBody) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.closes == 2 {
		close(c.watched)
	}
	return nil
}

func TestReadStreamWatcherExits(t *testing.T) {
	// The transport watcher must be released when the stream finishes, not
	// when the host context is cancelled; under a long-lived background
	// context it would otherwise park forever. The second body close proves
	// the watcher woke up and ran to completion.
	readers := map[string]func(ctx context.Context, body io.ReadCloser, s *Stream){
		"anthropic": func(ctx context.Context, body io.ReadCloser, s *Stream) {
			NewAnthropicProvider("k").readStream(ctx, body, s)
		},
		"openai": func(ctx context.Context, body io.ReadCloser, s *Stream) {
			NewOpenAIProvider("k").readStream(ctx, body, s)
		},
	}
	for name, read := range readers {
		t.Run(name, func(t *testing.T) {
			body := newCountingBody()
			s := newStream(4)
			go read(context.Background(), body, s)

			for range s.Parts() {
			}
			if err := s.Err(); err != nil {
				t.Fatalf("stream error: %v", err)
			}
			select {
			case <-body.watched:
			case <-time.After(2 * time.Second):
				t.Fatal("context watcher still parked after the stream ended")
			}
		})
	}
}

func TestAnthropicBuildRequestBody(t *testing.T) {
	p := NewAnthropicProvider("test-key")
	req := Request{
		Messages: []Message{
			{Role: "system", Content: "You are helpful."},
			{Role: "user", Content: "list files"},
			{Role: "assistant", Content: "", ToolCalls: []ToolCall{{ID: "t1", Name: "ls", Arguments: map[string]any{"path": "."}}}},
			{Role: "tool", ToolCallID: "t1", Content: "F1  main.go"},
			{Role: "tool", ToolCallID: "t2", Content: "ok"},
		},
	}
	body := p.buildRequestBody("claude-sonnet-4-5-20250929", req, true)

	if _, ok := body["system"]; !ok {
		t.Fatal("system blocks missing")
	}
	messages := body["messages"].([]map[string]any)
	// user, assistant, then one batched tool_result user message
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(messages))
	}
	last := messages[2]
	if last["role"] != "user" {
		t.Errorf("tool results must batch into a user message, got role %v", last["role"])
	}
	results := last["content"].([]map[string]any)
	if len(results) != 2 {
		t.Errorf("got %d tool results in batch, want 2", len(results))
	}
	if body["max_tokens"] != 8192 {
		t.Errorf("max_tokens default = %v, want 8192", body["max_tokens"])
	}
}
