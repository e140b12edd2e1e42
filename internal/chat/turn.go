// Package chat defines the provider-neutral conversation model shared by all
// backend adapters: conversations, turns, content parts, tool schemas and the
// normalized streaming events reconstructed by the stream reassembler.
package chat

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartKind tags the variant held by a Part.
type PartKind string

const (
	PartText       PartKind = "text"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
)

// ToolCall is a tool invocation requested by the assistant. The ID pairs the
// call with the ToolResult the caller supplies back; it is provider-assigned
// and must never be regenerated during translation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult carries the outcome of a ToolCall back into the conversation.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
}

// Part is one content segment of a Turn. Exactly one variant is populated,
// selected by Kind.
type Part struct {
	Kind       PartKind    `json:"kind"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// TextPart builds a text Part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// ToolCallPart builds a tool-call Part.
func ToolCallPart(id, name string, arguments json.RawMessage) Part {
	return Part{Kind: PartToolCall, ToolCall: &ToolCall{ID: id, Name: name, Arguments: arguments}}
}

// ToolResultPart builds a tool-result Part.
func ToolResultPart(toolCallID string, payload json.RawMessage) Part {
	return Part{Kind: PartToolResult, ToolResult: &ToolResult{ToolCallID: toolCallID, Payload: payload}}
}

// FinishReason is the internal terminal-reason enumeration. Tool-use stop
// reasons map to FinishStop; callers detect pending tools from the Parts.
type FinishReason string

const (
	FinishStop             FinishReason = "stop"
	FinishMaxOutputReached FinishReason = "max_output_reached"
	FinishContentFiltered  FinishReason = "content_filtered"
	FinishOther            FinishReason = "other"
)

// Usage holds provider-reported consumption counters. Missing counters are
// zero, never negative, so downstream aggregation stays total-safe.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add returns the element-wise sum of two usage reports.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
	}
}

// Turn is one role's contribution to a Conversation. Turns are value objects:
// once appended they are never edited in place.
type Turn struct {
	ID    string `json:"id,omitempty"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`

	// Internal marks synthetic analysis prompts injected by the assistant
	// loop. The discard-history fallback skips these when locating the
	// latest genuine user request.
	Internal bool `json:"internal,omitempty"`

	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
	CreatedAt    time.Time    `json:"created_at,omitempty"`

	// Sequence is the transcript-store stream sequence, populated on read.
	Sequence uint64 `json:"sequence,omitempty"`
}

// UserTurn builds a user Turn with a single text Part.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// SystemTurn builds a system Turn with a single text Part.
func SystemTurn(text string) Turn {
	return Turn{Role: RoleSystem, Parts: []Part{TextPart(text)}}
}

// AssistantTurn builds an assistant Turn from the given parts. An empty parts
// list is replaced with one empty text Part so downstream consumers always
// see at least one Part.
func AssistantTurn(parts ...Part) Turn {
	if len(parts) == 0 {
		parts = []Part{TextPart("")}
	}
	return Turn{Role: RoleAssistant, Parts: parts}
}

// Text concatenates the text Parts of the Turn.
func (t Turn) Text() string {
	var out string
	for _, p := range t.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call Parts of the Turn in order.
func (t Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range t.Parts {
		if p.Kind == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// Clone returns a deep copy of the Turn.
func (t Turn) Clone() Turn {
	out := t
	if t.Parts != nil {
		out.Parts = make([]Part, len(t.Parts))
		for i, p := range t.Parts {
			cp := p
			if p.ToolCall != nil {
				tc := *p.ToolCall
				tc.Arguments = append(json.RawMessage(nil), p.ToolCall.Arguments...)
				cp.ToolCall = &tc
			}
			if p.ToolResult != nil {
				tr := *p.ToolResult
				tr.Payload = append(json.RawMessage(nil), p.ToolResult.Payload...)
				cp.ToolResult = &tr
			}
			out.Parts[i] = cp
		}
	}
	if t.Usage != nil {
		u := *t.Usage
		out.Usage = &u
	}
	return out
}
