package agent

import (
	"context"

	"github.com/nextlevelbuilder/clawcore/internal/events"
	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/tools"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

// Callbacks observe the turn loop. All fields are optional. Every callback
// invocation is mirrored as a typed event on the run's queue.
type Callbacks struct {
	OnIterationStart  func(i int)
	OnAssistantToken  func(token string)
	OnThoughtToken    func(token string)
	OnToolCall        func(call providers.ToolCall)
	OnToolBlocked     func(call providers.ToolCall, reason string)
	OnToolResult      func(call providers.ToolCall, result *tools.Result)
	OnStatusChange    func(status string)
	OnComplete        func(text string)
	OnCompactionStart func(markerID string)
	OnCompactionEnd   func(markerID, status string)
}

// emitter pairs the callbacks with the event queue so one call site feeds
// both.
type emitter struct {
	cb    Callbacks
	queue *events.Queue
	ctx   context.Context
}

func (e *emitter) push(ev events.Event) {
	if e.queue != nil {
		e.queue.Push(e.ctx, ev)
	}
}

func (e *emitter) iterationStart(i int) {
	if e.cb.OnIterationStart != nil {
		e.cb.OnIterationStart(i)
	}
	e.push(events.Event{Name: protocol.EventStatus, Payload: events.StatusPayload{Status: protocol.StatusRunning}})
}

func (e *emitter) assistantToken(tok string) {
	if e.cb.OnAssistantToken != nil {
		e.cb.OnAssistantToken(tok)
	}
	e.push(events.Event{Name: protocol.EventAssistantToken, Payload: tok})
}

func (e *emitter) thoughtToken(tok string) {
	if e.cb.OnThoughtToken != nil {
		e.cb.OnThoughtToken(tok)
	}
	e.push(events.Event{Name: protocol.EventThoughtToken, Payload: tok})
}

func (e *emitter) toolCall(call providers.ToolCall) {
	if e.cb.OnToolCall != nil {
		e.cb.OnToolCall(call)
	}
	e.push(events.Event{Name: protocol.EventToolCall, Payload: call})
}

func (e *emitter) toolBlocked(call providers.ToolCall, reason string) {
	if e.cb.OnToolBlocked != nil {
		e.cb.OnToolBlocked(call, reason)
	}
	e.push(events.Event{Name: protocol.EventToolBlocked, Payload: map[string]any{
		"toolCallId": call.ID, "tool": call.Name, "reason": reason,
	}})
}

func (e *emitter) toolResult(call providers.ToolCall, res *tools.Result) {
	if e.cb.OnToolResult != nil {
		e.cb.OnToolResult(call, res)
	}
	e.push(events.Event{Name: protocol.EventToolResult, Payload: map[string]any{
		"toolCallId": call.ID, "tool": call.Name, "success": res.Success,
	}})
}

func (e *emitter) status(status string) {
	if e.cb.OnStatusChange != nil {
		e.cb.OnStatusChange(status)
	}
	e.push(events.Event{Name: protocol.EventStatus, Payload: events.StatusPayload{Status: status}})
}

func (e *emitter) notice(msg string) {
	e.push(events.Notice(msg))
}

func (e *emitter) complete(text string) {
	if e.cb.OnComplete != nil {
		e.cb.OnComplete(text)
	}
	e.push(events.Event{Name: protocol.EventStatus, Payload: events.StatusPayload{Status: protocol.StatusDone}})
}

func (e *emitter) compactionStart(markerID string) {
	if e.cb.OnCompactionStart != nil {
		e.cb.OnCompactionStart(markerID)
	}
	e.push(events.Event{Name: protocol.EventCompactionStart, Payload: events.CompactionPayload{MarkerMessageID: markerID}})
}

func (e *emitter) compactionEnd(markerID, status string) {
	if e.cb.OnCompactionEnd != nil {
		e.cb.OnCompactionEnd(markerID, status)
	}
	e.push(events.Event{Name: protocol.EventCompactionEnd, Payload: events.CompactionPayload{MarkerMessageID: markerID, Status: status}})
}
