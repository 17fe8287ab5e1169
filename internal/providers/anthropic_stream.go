package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type anthropicMessageStartEvent struct {
	Message struct {
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type anthropicContentBlockStartEvent struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type anthropicContentBlockDeltaEvent struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type anthropicMessageDeltaEvent struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Stream opens a Messages API stream and translates SSE frames into tagged
// parts. Only the connection phase retries; once parts flow, failures
// surface as an error part and the channel closes.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (*Stream, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildRequestBody(model, req, true)

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

func (p *AnthropicProvider) readStream(ctx context.Context, respBody io.ReadCloser, s *Stream) {
	// Per-stream context so the watcher below exits with the stream instead
	// of parking on the host context for its whole lifetime.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(s.parts)
	defer respBody.Close()

	// Cancel closes the transport so the scanner unblocks.
	go func() {
		<-ctx.Done()
		respBody.Close()
	}()

	s.finishReason = "stop"
	toolCallJSON := make(map[int]string)
	toolCallIndex := make(map[int]*ToolCall)

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // large thinking chunks
	var currentEvent string

	emit := func(part StreamPart) bool {
		select {
		case s.parts <- part:
			return true
		case <-ctx.Done():
			s.err = ctx.Err()
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := []byte(strings.TrimPrefix(line, "data: "))

		switch currentEvent {
		case "message_start":
			var ev anthropicMessageStartEvent
			if err := json.Unmarshal(data, &ev); err == nil {
				s.usage.InputNoCache = ev.Message.Usage.InputTokens
				s.usage.CacheWrite = ev.Message.Usage.CacheCreationInputTokens
				s.usage.CacheRead = ev.Message.Usage.CacheReadInputTokens
				s.usage.InputTotal = s.usage.InputNoCache + s.usage.CacheRead + s.usage.CacheWrite
			}

		case "content_block_start":
			var ev anthropicContentBlockStartEvent
			if err := json.Unmarshal(data, &ev); err == nil && ev.ContentBlock.Type == "tool_use" {
				tc := &ToolCall{
					ID:        ev.ContentBlock.ID,
					Name:      strings.TrimSpace(ev.ContentBlock.Name),
					Arguments: map[string]any{},
				}
				toolCallIndex[ev.Index] = tc
			}

		case "content_block_delta":
			var ev anthropicContentBlockDeltaEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if !emit(StreamPart{Type: PartTextDelta, Text: ev.Delta.Text, Raw: data}) {
					return
				}
			case "thinking_delta":
				if !emit(StreamPart{Type: PartReasoningDelta, Text: ev.Delta.Thinking, Raw: data}) {
					return
				}
			case "input_json_delta":
				toolCallJSON[ev.Index] += ev.Delta.PartialJSON
			case "signature_delta":
				// Adapters pick the signature off the raw payload.
				if !emit(StreamPart{Type: PartReasoningDelta, Raw: data}) {
					return
				}
			}

		case "content_block_stop":
			var ev anthropicContentBlockStartEvent
			if err := json.Unmarshal(data, &ev); err == nil {
				if tc, ok := toolCallIndex[ev.Index]; ok {
					if raw := toolCallJSON[ev.Index]; raw != "" {
						args := map[string]any{}
						_ = json.Unmarshal([]byte(raw), &args)
						tc.Arguments = args
					}
					if !emit(StreamPart{Type: PartToolCall, ToolCall: tc, Raw: data}) {
						return
					}
				}
			}

		case "message_delta":
			var ev anthropicMessageDeltaEvent
			if err := json.Unmarshal(data, &ev); err == nil {
				if ev.Delta.StopReason != "" {
					switch ev.Delta.StopReason {
					case "tool_use":
						s.finishReason = "tool-calls"
					case "max_tokens":
						s.finishReason = "length"
					default:
						s.finishReason = "stop"
					}
				}
				if ev.Usage.OutputTokens > 0 {
					s.usage.OutputTotal = ev.Usage.OutputTokens
				}
			}

		case "error":
			var ev anthropicErrorEvent
			if err := json.Unmarshal(data, &ev); err == nil {
				streamErr := fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)
				if !emit(StreamPart{Type: PartError, Err: streamErr, Raw: data}) {
					return
				}
			}

		case "message_stop":
			emit(StreamPart{Type: PartFinish, FinishReason: s.finishReason, Usage: &s.usage, Raw: data})
		}
	}

	if err := scanner.Err(); err != nil && s.err == nil {
		if ctx.Err() != nil {
			s.err = ctx.Err()
		} else {
			s.err = fmt.Errorf("anthropic: stream read: %w", err)
		}
	}
}
