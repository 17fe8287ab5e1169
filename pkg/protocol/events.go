package protocol

// Event names pushed from the run event stream to consumers (CLI, WebSocket
// clients). Every loop callback mirrors into exactly one of these.
const (
	EventDebug           = "debug"
	EventNotice          = "notice"
	EventStatus          = "status"
	EventAssistantToken  = "assistant_token"
	EventThoughtToken    = "thought_token"
	EventToolCall        = "tool_call"
	EventToolBlocked     = "tool_blocked"
	EventToolResult      = "tool_result"
	EventCompactionStart = "compaction_start"
	EventCompactionEnd   = "compaction_end"
)

// Status payload types (in payload.type).
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Compaction end statuses.
const (
	CompactionDone     = "done"
	CompactionCanceled = "canceled"
	CompactionError    = "error"
)
