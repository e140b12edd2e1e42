package openai

import (
	"context"
	"errors"
	"io"
	"sort"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/provider"
)

// CompleteStream performs a streaming exchange, normalizing the wire protocol
// into the adapter's event sequence. OpenAI streams tool-call fragments keyed
// by choice-local index with the id and name only on the first fragment, so
// the adapter tracks index-to-id bindings and closes every open call before
// the terminal event.
func (c *Client) CompleteStream(ctx context.Context, req *provider.Request, handler provider.EventHandler) error {
	wire, err := c.buildRequest(req)
	if err != nil {
		return err
	}
	wire.Stream = true
	wire.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}

	s, err := c.api.CreateChatCompletionStream(ctx, wire)
	if err != nil {
		return c.classify(ctx, err)
	}
	defer s.Close()

	var (
		idByIndex = make(map[int]string)
		openOrder []int
		usage     chat.Usage
		finish    chat.FinishReason = chat.FinishOther
	)

	for {
		chunk, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return c.classify(ctx, err)
		}

		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if err := handler(chat.StreamEvent{Kind: chat.EventTextDelta, Text: choice.Delta.Content}); err != nil {
				return err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			id, started := idByIndex[idx]
			if !started {
				id = tc.ID
				idByIndex[idx] = id
				openOrder = append(openOrder, idx)
				if err := handler(chat.StreamEvent{
					Kind: chat.EventToolCallStart,
					ID:   id,
					Name: tc.Function.Name,
				}); err != nil {
					return err
				}
			}
			if tc.Function.Arguments != "" {
				if err := handler(chat.StreamEvent{
					Kind:             chat.EventToolCallArgDelta,
					ID:               id,
					ArgumentFragment: tc.Function.Arguments,
				}); err != nil {
					return err
				}
			}
		}

		if choice.FinishReason != "" {
			finish = mapFinishReason(choice.FinishReason)
		}
	}

	// Close calls in index order; the wire protocol has no per-call stop
	// marker, a call is complete once the stream finishes.
	sort.Ints(openOrder)
	for _, idx := range openOrder {
		if err := handler(chat.StreamEvent{Kind: chat.EventToolCallEnd, ID: idByIndex[idx]}); err != nil {
			return err
		}
	}

	return handler(chat.StreamEvent{
		Kind:         chat.EventMessageEnd,
		FinishReason: finish,
		Usage:        &usage,
	})
}
