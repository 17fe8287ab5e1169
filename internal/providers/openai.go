package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultOpenAIModel = "gpt-4o"
	openAIAPIBase      = "https://api.openai.com/v1"
)

// OpenAIProvider implements Provider against OpenAI-compatible chat
// completion endpoints. It also serves gateways that speak the same wire
// format under a different base URL.
type OpenAIProvider struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
	limiter      *rate.Limiter
}

func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		name:         "openai",
		apiKey:       apiKey,
		baseURL:      openAIAPIBase,
		defaultModel: defaultOpenAIModel,
		client:       &http.Client{Timeout: 300 * time.Second},
		retryConfig:  DefaultRetryConfig(),
		limiter:      rate.NewLimiter(rate.Limit(2), 4),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type OpenAIOption func(*OpenAIProvider)

func WithOpenAIName(name string) OpenAIOption {
	return func(p *OpenAIProvider) { p.name = name }
}

func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) { p.defaultModel = model }
}

func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithOpenAIRateLimit(rps float64, burst int) OpenAIOption {
	return func(p *OpenAIProvider) { p.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (*Stream, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildRequestBody(model, req)

	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}

	s := newStream(64)
	go p.readStream(ctx, respBody, s)
	return s, nil
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			Provider:   p.name,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(b),
		}
	}
	return resp.Body, nil
}

// buildRequestBody converts a Request into the chat/completions wire shape.
// Reasoning passback is dropped; OpenAI models do not accept thinking blocks.
func (p *OpenAIProvider) buildRequestBody(model string, req Request) map[string]any {
	var messages []map[string]any
	for _, msg := range req.Messages {
		m := map[string]any{"role": msg.Role, "content": msg.Content}
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			var calls []map[string]any
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(args),
					},
				})
			}
			m["tool_calls"] = calls
		}
		if msg.Role == "tool" {
			m["tool_call_id"] = msg.ToolCallID
		}
		messages = append(messages, m)
	}

	body := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   true,
		"stream_options": map[string]any{
			"include_usage": true,
		},
	}
	if req.MaxOutputTokens > 0 {
		body["max_completion_tokens"] = req.MaxOutputTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Function.Name,
					"description": t.Function.Description,
					"parameters":  t.Function.Parameters,
				},
			})
		}
		body["tools"] = tools
	}
	for k, v := range req.ProviderOptions {
		body[k] = v
	}
	return body
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAIProvider) readStream(ctx context.Context, respBody io.ReadCloser, s *Stream) {
	// Scoped to this stream so the watcher exits when reading finishes.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(s.parts)
	defer respBody.Close()

	go func() {
		<-ctx.Done()
		respBody.Close()
	}()

	s.finishReason = "stop"
	type partialCall struct {
		id   string
		name string
		args strings.Builder
	}
	calls := make(map[int]*partialCall)
	var callOrder []int

	emit := func(part StreamPart) bool {
		select {
		case s.parts <- part:
			return true
		case <-ctx.Done():
			s.err = ctx.Err()
			return false
		}
	}

	flushCalls := func() bool {
		for _, idx := range callOrder {
			pc := calls[idx]
			args := map[string]any{}
			if raw := pc.args.String(); raw != "" {
				_ = json.Unmarshal([]byte(raw), &args)
			}
			tc := &ToolCall{ID: pc.id, Name: strings.TrimSpace(pc.name), Arguments: args}
			if !emit(StreamPart{Type: PartToolCall, ToolCall: tc}) {
				return false
			}
		}
		calls = make(map[int]*partialCall)
		callOrder = nil
		return true
	}

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			if !flushCalls() {
				return
			}
			emit(StreamPart{Type: PartFinish, FinishReason: s.finishReason, Usage: &s.usage})
			continue
		}
		data := []byte(payload)

		var chunk openAIChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			continue
		}

		if chunk.Error != nil {
			streamErr := fmt.Errorf("%s stream error: %s: %s", p.name, chunk.Error.Type, chunk.Error.Message)
			if !emit(StreamPart{Type: PartError, Err: streamErr, Raw: data}) {
				return
			}
			continue
		}

		if chunk.Usage != nil {
			s.usage.InputTotal = chunk.Usage.PromptTokens
			s.usage.CacheRead = chunk.Usage.PromptTokensDetails.CachedTokens
			s.usage.InputNoCache = chunk.Usage.PromptTokens - s.usage.CacheRead
			s.usage.OutputTotal = chunk.Usage.CompletionTokens
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !emit(StreamPart{Type: PartTextDelta, Text: choice.Delta.Content, Raw: data}) {
					return
				}
			}
			if choice.Delta.ReasoningContent != "" {
				if !emit(StreamPart{Type: PartReasoningDelta, Text: choice.Delta.ReasoningContent, Raw: data}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				pc, ok := calls[tc.Index]
				if !ok {
					pc = &partialCall{}
					calls[tc.Index] = pc
					callOrder = append(callOrder, tc.Index)
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name += tc.Function.Name
				}
				pc.args.WriteString(tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				switch choice.FinishReason {
				case "tool_calls":
					s.finishReason = "tool-calls"
				case "length":
					s.finishReason = "length"
				default:
					s.finishReason = "stop"
				}
			}
		}
	}

	if err := scanner.Err(); err != nil && s.err == nil {
		if ctx.Err() != nil {
			s.err = ctx.Err()
		} else {
			s.err = fmt.Errorf("%s: stream read: %w", p.name, err)
		}
	}
}
