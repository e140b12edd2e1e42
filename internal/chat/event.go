package chat

// EventKind tags the variant of a StreamEvent.
type EventKind string

const (
	EventTextDelta        EventKind = "text_delta"
	EventToolCallStart    EventKind = "tool_call_start"
	EventToolCallArgDelta EventKind = "tool_call_arg_delta"
	EventToolCallEnd      EventKind = "tool_call_end"
	EventMessageEnd       EventKind = "message_end"
)

// StreamEvent is the normalized streaming event every backend adapter emits.
// For a given tool-call id, exactly one EventToolCallStart precedes zero or
// more EventToolCallArgDelta events, followed by exactly one EventToolCallEnd.
// EventMessageEnd is terminal and appears at most once.
type StreamEvent struct {
	Kind EventKind

	// Text is the delta payload for EventTextDelta.
	Text string

	// ID identifies the tool call for the three tool-call event kinds.
	ID string

	// Name is the tool name, set on EventToolCallStart.
	Name string

	// ArgumentFragment is a raw JSON fragment for EventToolCallArgDelta.
	ArgumentFragment string

	// FinishReason and Usage are set on EventMessageEnd.
	FinishReason FinishReason
	Usage        *Usage
}

// Warning reports a non-fatal data-quality defect observed while
// reconstructing a response, keyed to the affected tool-call id so callers
// can decide to re-prompt instead of silently accepting degraded output.
type Warning struct {
	ToolCallID string `json:"tool_call_id,omitempty"`
	Reason     string `json:"reason"`
}
