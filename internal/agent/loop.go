// Package agent runs the streaming tool-calling turn loop over one session:
// stream a generation, execute requested tools through the pipeline, feed
// results back, and repeat until the model stops calling tools.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/clawcore/internal/events"
	"github.com/nextlevelbuilder/clawcore/internal/plugins"
	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/session"
	"github.com/nextlevelbuilder/clawcore/internal/tools"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

// Agent drives turns for one session. It owns the session for the duration
// of a run; hosts must not mutate the session concurrently.
type Agent struct {
	Providers *providers.Registry
	Pipeline  *tools.Pipeline
	Plugins   *plugins.Registry
	Session   *session.Session
	Config    Config
	Events    *events.Queue
	Callbacks Callbacks
	Log       *slog.Logger

	pluginToolsRegistered bool
}

// Result is what a finished turn returns.
type Result struct {
	Text  string
	Usage providers.Usage
}

func (a *Agent) log() *slog.Logger {
	if a.Log != nil {
		return a.Log
	}
	return slog.Default()
}

var tracer = otel.Tracer("clawcore/agent")

// Run executes one turn: pushes the user input, then iterates generations
// until the model finishes without tool calls or the iteration cap hits.
func (a *Agent) Run(ctx context.Context, userInput string) (*Result, error) {
	cfg := a.Config.withDefaults()
	em := &emitter{cb: a.Callbacks, queue: a.Events, ctx: ctx}

	ctx, turnSpan := tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("session.id", a.Session.ID),
		attribute.String("model", cfg.Model),
	))
	defer turnSpan.End()

	result, err := a.run(ctx, cfg, em, userInput)
	if err != nil {
		turnSpan.RecordError(err)
		turnSpan.SetStatus(codes.Error, err.Error())
		em.status(protocol.StatusError)
		return nil, err
	}
	turnSpan.SetAttributes(
		attribute.Int("usage.input", result.Usage.InputTotal),
		attribute.Int("usage.output", result.Usage.OutputTotal),
	)
	return result, nil
}

func (a *Agent) run(ctx context.Context, cfg Config, em *emitter, userInput string) (*Result, error) {
	if userInput != "" {
		if err := a.Session.History.Push(session.NewTextMessage(session.RoleUser, userInput)); err != nil {
			return nil, err
		}
	}

	if err := a.registerPluginTools(); err != nil {
		return nil, err
	}

	systemParts, err := a.systemParts(ctx, cfg)
	if err != nil {
		return nil, err
	}

	provider, behavior, model, err := a.Providers.Resolve(cfg.Model)
	if err != nil {
		return nil, err
	}

	params := &plugins.ChatParams{
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		TopK:        cfg.TopK,
	}
	if a.Plugins != nil {
		if err := a.Plugins.RunChatParams(ctx, params); err != nil {
			return nil, err
		}
	}

	offered := a.Pipeline.Registry.Filter(cfg.ToolFilter)
	toolDefs := tools.ProviderDefinitions(offered)

	var turnUsage providers.Usage
	lastText := ""

	for i := 0; i < cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		em.iterationStart(i)

		prompt := a.buildPrompt(ctx, cfg, behavior, systemParts)

		msg, finishReason, usage, err := a.streamOnce(ctx, cfg, em, provider, behavior, providers.Request{
			Model:           model,
			Messages:        prompt,
			Tools:           toolDefs,
			Temperature:     params.Temperature,
			TopP:            params.TopP,
			TopK:            params.TopK,
			MaxOutputTokens: cfg.MaxOutputTokens,
			ProviderOptions: params.Options,
		}, i)
		if err != nil {
			return nil, err
		}

		turnUsage.Add(usage)
		a.finalizeMessage(ctx, msg, finishReason, usage)
		if err := a.Session.History.Push(msg); err != nil {
			return nil, err
		}
		a.Session.History.MarkPrunableToolOutputs(cfg.Compaction.PruneProtectTokens * 4)

		if text := msg.Text(); text != "" {
			lastText = text
		}

		toolParts := msg.ToolParts()
		if len(toolParts) > 0 {
			a.executeTools(ctx, em, msg, toolParts)
		}

		if a.shouldCompact(cfg, finishReason, usage) {
			if err := a.compact(ctx, cfg, em, provider, model); err != nil {
				return nil, fmt.Errorf("compaction: %w", err)
			}
			continue
		}

		if finishReason == "tool-calls" || len(toolParts) > 0 {
			continue
		}

		if a.Plugins != nil {
			a.Plugins.RunChatComplete(ctx, plugins.ChatCompleteInput{SessionID: a.Session.ID, Text: lastText})
		}
		em.complete(lastText)
		return &Result{Text: lastText, Usage: turnUsage}, nil
	}

	em.notice(fmt.Sprintf("stopped after %d iterations", cfg.MaxIterations))
	em.complete(lastText)
	return &Result{Text: lastText, Usage: turnUsage}, nil
}

// registerPluginTools runs once per agent; tool id collisions abort the run.
func (a *Agent) registerPluginTools() error {
	if a.pluginToolsRegistered || a.Plugins == nil {
		return nil
	}
	contribs, err := a.Plugins.CollectTools(a.Pipeline.Registry.IDSet())
	if err != nil {
		return err
	}
	for _, tc := range contribs {
		def, ok := tc.Tool.(*tools.Definition)
		if !ok {
			return fmt.Errorf("plugin tool %q has unexpected type %T", tc.ID, tc.Tool)
		}
		if err := a.Pipeline.Registry.Register(def); err != nil {
			return err
		}
	}
	a.pluginToolsRegistered = true
	return nil
}

func (a *Agent) systemParts(ctx context.Context, cfg Config) ([]string, error) {
	out := &plugins.SystemTransformOutput{}
	if cfg.SystemPrompt != "" {
		out.Parts = append(out.Parts, cfg.SystemPrompt)
	}
	if a.Plugins != nil {
		if err := a.Plugins.RunSystemTransform(ctx, out); err != nil {
			return nil, err
		}
	}
	return out.Parts, nil
}

// buildPrompt assembles system parts plus the converted effective history
// with this turn's mode reminders.
func (a *Agent) buildPrompt(ctx context.Context, cfg Config, behavior providers.Behavior, systemParts []string) []providers.Message {
	var prompt []providers.Message
	for _, part := range systemParts {
		prompt = append(prompt, providers.Message{Role: "system", Content: part})
	}

	converted := session.HistoryForModel(a.Session.History.Effective(), session.PrepareOptions{
		PlanMode:           cfg.PlanMode,
		BuildSwitch:        cfg.BuildSwitch,
		AllowExternalPaths: cfg.AllowExternalPaths,
		IncludeReasoning:   behavior.SupportsReasoning,
	})

	if a.Plugins != nil {
		// The transform sees loose maps; most plugins only append or drop.
		out := &plugins.MessagesTransformOutput{}
		for _, m := range converted {
			out.Messages = append(out.Messages, map[string]any{
				"role": m.Role, "content": m.Content,
			})
		}
		if err := a.Plugins.RunMessagesTransform(ctx, out); err == nil && len(out.Messages) != len(converted) {
			rebuilt := make([]providers.Message, 0, len(out.Messages))
			for _, m := range out.Messages {
				role, _ := m["role"].(string)
				content, _ := m["content"].(string)
				rebuilt = append(rebuilt, providers.Message{Role: role, Content: content})
			}
			converted = rebuilt
		}
	}

	return append(prompt, converted...)
}

// streamOnce runs one generation with the outer retry loop. Retries happen
// only when nothing observable was produced: no tool call, no text, not
// cancelled, and the failure classifies as transient.
func (a *Agent) streamOnce(ctx context.Context, cfg Config, em *emitter, provider providers.Provider, behavior providers.Behavior, req providers.Request, iteration int) (*session.Message, string, providers.Usage, error) {
	retryCfg := providers.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.MaxRetries

	var lastErr error
	for attempt := 1; attempt <= retryCfg.MaxRetries+1; attempt++ {
		msg, finishReason, usage, sawOutput, err := a.streamAttempt(ctx, em, provider, behavior, req, iteration)
		if err == nil {
			return msg, finishReason, usage, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, "", providers.Usage{}, ctx.Err()
		}
		if sawOutput || !providers.Retriable(err) || attempt > retryCfg.MaxRetries {
			break
		}

		delay := retryCfg.Delay(attempt, providers.RetryAfterOf(err))
		a.log().Warn("model stream failed, retrying",
			"attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, "", providers.Usage{}, ctx.Err()
		}
	}
	return nil, "", providers.Usage{}, lastErr
}

// streamAttempt opens one stream and dispatches its parts into a fresh
// assistant message. sawOutput reports whether any text or tool call arrived
// before the failure, which disqualifies the attempt from retrying.
func (a *Agent) streamAttempt(ctx context.Context, em *emitter, provider providers.Provider, behavior providers.Behavior, req providers.Request, iteration int) (_ *session.Message, _ string, _ providers.Usage, sawOutput bool, _ error) {
	ctx, span := tracer.Start(ctx, "agent.generation", trace.WithAttributes(
		attribute.Int("iteration", iteration),
		attribute.String("provider", provider.Name()),
	))
	defer span.End()

	var adapter *providers.ComposedAdapter
	if behavior.NewAdapters != nil {
		composed, err := providers.Compose(behavior.NewAdapters()...)
		if err != nil {
			return nil, "", providers.Usage{}, false, err
		}
		adapter = composed
	}

	stream, err := provider.Stream(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, "", providers.Usage{}, false, err
	}

	msg := session.NewMessage(session.RoleAssistant)
	var attemptText, attemptReasoning string
	sawFinish := false

	for part := range stream.Parts() {
		if adapter != nil {
			adapter.ObservePart(&part)
		}
		switch part.Type {
		case providers.PartTextDelta:
			attemptText += part.Text
			sawOutput = true
			em.assistantToken(part.Text)

		case providers.PartReasoningDelta:
			if part.Text != "" {
				attemptReasoning += part.Text
				em.thoughtToken(part.Text)
			}

		case providers.PartToolCall:
			sawOutput = true
			msg.Parts = append(msg.Parts, session.Part{
				Kind:       session.PartDynamicTool,
				State:      session.StateCall,
				ToolName:   part.ToolCall.Name,
				ToolCallID: part.ToolCall.ID,
				Input:      part.ToolCall.Arguments,
			})
			em.toolCall(*part.ToolCall)

		case providers.PartToolResult:
			// Provider-executed tools (server-side search etc.) land as
			// finished parts directly.
			if p, err := msg.FindToolPart(part.ToolCallID); err == nil {
				p.State = session.StateOutputAvailable
				p.Output = string(part.Result)
				em.toolResult(providers.ToolCall{ID: p.ToolCallID, Name: p.ToolName}, &tools.Result{Success: true, Data: p.Output})
				em.status(protocol.StatusRunning)
			}

		case providers.PartToolError:
			if p, err := msg.FindToolPart(part.ToolCallID); err == nil {
				p.State = session.StateError
				p.ErrorText = part.ErrorText
				em.toolResult(providers.ToolCall{ID: p.ToolCallID, Name: p.ToolName}, &tools.Result{Success: false, Error: part.ErrorText})
			}

		case providers.PartFinish, providers.PartFinishStep:
			sawFinish = true

		case providers.PartError:
			if adapter != nil && adapter.Recoverable(part, sawFinish) {
				a.log().Debug("ignoring recoverable stream error", "error", part.Err)
				continue
			}
			span.RecordError(part.Err)
			return nil, "", providers.Usage{}, sawOutput, part.Err
		}
	}

	if err := stream.Err(); err != nil {
		span.RecordError(err)
		return nil, "", providers.Usage{}, sawOutput, err
	}

	// Assemble parts: reasoning first, then text.
	var parts []session.Part
	if attemptReasoning != "" {
		parts = append(parts, session.Part{Kind: session.PartReasoning, State: session.StateDone, Text: attemptReasoning})
	}
	if text := SanitizeAssistantText(attemptText); text != "" {
		parts = append(parts, session.Part{Kind: session.PartText, State: session.StateDone, Text: text})
	}
	msg.Parts = append(parts, msg.Parts...)

	if adapter != nil {
		for _, u := range adapter.ReplayUpdates() {
			if msg.Metadata.Replay == nil {
				msg.Metadata.Replay = map[string]json.RawMessage{}
			}
			msg.Metadata.Replay[u.Namespace] = u.Payload
		}
	}

	usage := stream.Usage()
	span.SetAttributes(
		attribute.String("finish_reason", stream.FinishReason()),
		attribute.Int("usage.output", usage.OutputTotal),
	)
	return msg, stream.FinishReason(), usage, sawOutput, nil
}

// finalizeMessage applies the text.complete plugin and records usage.
func (a *Agent) finalizeMessage(ctx context.Context, msg *session.Message, finishReason string, usage providers.Usage) {
	if a.Plugins != nil {
		out := &plugins.TextCompleteOutput{Text: msg.Text()}
		if err := a.Plugins.RunTextComplete(ctx, a.Session.ID, out); err == nil && out.Text != msg.Text() {
			for i := range msg.Parts {
				if msg.Parts[i].Kind == session.PartText {
					msg.Parts[i].Text = out.Text
					break
				}
			}
		}
	}
	u := usage
	msg.Metadata.Tokens = &u
	msg.Metadata.FinishedBy = finishReason
	msg.Finalize()
}

// executeTools runs each recorded call through the pipeline and stores the
// formatted output on its dynamic-tool part.
func (a *Agent) executeTools(ctx context.Context, em *emitter, msg *session.Message, parts []*session.Part) {
	pipeline := a.Pipeline
	pipeline.Callbacks = tools.Callbacks{
		OnToolBlocked: func(call providers.ToolCall, def *tools.Definition, reason string) {
			em.toolBlocked(call, reason)
		},
		OnStatusChange: func(status string) {
			em.status(status)
		},
	}

	for _, part := range parts {
		if part.State != session.StateCall {
			// Provider-executed parts arrive already finished.
			continue
		}
		if err := ctx.Err(); err != nil {
			part.State = session.StateError
			part.ErrorText = "cancelled"
			continue
		}
		call := providers.ToolCall{ID: part.ToolCallID, Name: part.ToolName, Arguments: part.Input}

		toolCtx, span := tracer.Start(ctx, "agent.tool", trace.WithAttributes(
			attribute.String("tool", part.ToolName),
		))
		res := pipeline.Execute(toolCtx, call)
		if !res.Success {
			span.SetStatus(codes.Error, res.Error)
		}
		span.End()

		if res.Success {
			part.State = session.StateOutputAvailable
		} else {
			part.State = session.StateError
			part.ErrorText = res.Error
		}
		part.Output = tools.FormatResult(res)
		em.toolResult(call, res)
	}
}

// shouldCompact checks the overflow trigger after a tool-calling generation.
// When the provider reported no usage the tokenizer estimate over the
// effective history stands in.
func (a *Agent) shouldCompact(cfg Config, finishReason string, usage providers.Usage) bool {
	if finishReason != "tool-calls" {
		return false
	}
	used := usage.InputNoCache + usage.OutputTotal
	if used == 0 {
		used = EstimateHistoryTokens(a.Session.History.Effective())
	}
	threshold := int(float64(cfg.Compaction.ContextLimit) * cfg.Compaction.Fraction)
	return used+cfg.Compaction.ReservedOutputTokens >= threshold
}
