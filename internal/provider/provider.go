// Package provider defines the backend client contract shared by every model
// adapter, the provider-agnostic error taxonomy, and the long-lived client
// pool.
package provider

import (
	"context"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
)

// Backend identifies a model backend family.
type Backend string

const (
	BackendAnthropic Backend = "anthropic"
	BackendOpenAI    Backend = "openai"
)

// Request is one adapter invocation: the conversation to send, the tools the
// model may call, and generation options.
type Request struct {
	Conversation chat.Conversation
	Tools        []chat.ToolSchema
	Options      chat.GenerationOptions
}

// EventHandler receives normalized stream events in upstream order. Returning
// an error aborts the stream.
type EventHandler func(chat.StreamEvent) error

// Client is a backend adapter. Implementations own request/response
// translation for one wire protocol; nothing outside them is aware of
// provider shapes.
type Client interface {
	// Backend returns the backend this client speaks to.
	Backend() Backend

	// Complete performs a non-streaming exchange and returns the assistant
	// Turn reconstructed from the provider response.
	Complete(ctx context.Context, req *Request) (*chat.Turn, error)

	// CompleteStream performs a streaming exchange, emitting normalized
	// events to handler as they arrive.
	CompleteStream(ctx context.Context, req *Request, handler EventHandler) error
}
