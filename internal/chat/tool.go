package chat

import "encoding/json"

// ToolSchema describes one tool the model may invoke. Immutable once
// constructed; caching identity is a content hash of the normalized
// parameters document (see internal/schema).
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// GenerationOptions carries caller-supplied sampling and prompt settings.
// SystemPrompt, when set, overrides any system Turn in the conversation.
type GenerationOptions struct {
	Model         string
	SystemPrompt  string
	MaxTokens     int
	Temperature   *float64
	TopP          *float64
	StopSequences []string
}
