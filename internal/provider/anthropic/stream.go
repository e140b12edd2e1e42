package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/provider"
)

// CompleteStream performs a streaming exchange, normalizing the wire protocol
// into the adapter's event sequence. Anthropic streams block-start/delta/stop
// triplets addressed by block index, so the adapter tracks which indexes are
// tool-use blocks and their provider-assigned ids.
func (c *Client) CompleteStream(ctx context.Context, req *provider.Request, handler provider.EventHandler) error {
	params, err := c.buildParams(req)
	if err != nil {
		return err
	}

	s := c.api.Messages.NewStreaming(ctx, params)

	var (
		toolIDByIndex = make(map[int64]string)
		usage         chat.Usage
		finish        chat.FinishReason = chat.FinishOther
	)

	for s.Next() {
		event := s.Current()

		switch event.Type {
		case sdk.MessageStreamEventTypeMessageStart:
			usage.PromptTokens = int(event.Message.Usage.InputTokens)

		case sdk.MessageStreamEventTypeContentBlockStart:
			block, ok := event.ContentBlock.(sdk.ContentBlockStartEventContentBlock)
			if ok && string(block.Type) == "tool_use" {
				toolIDByIndex[event.Index] = block.ID
				if err := handler(chat.StreamEvent{
					Kind: chat.EventToolCallStart,
					ID:   block.ID,
					Name: block.Name,
				}); err != nil {
					return err
				}
			}

		case sdk.MessageStreamEventTypeContentBlockDelta:
			delta, ok := event.Delta.(sdk.ContentBlockDeltaEventDelta)
			if !ok {
				break
			}
			switch delta.Type {
			case "text_delta":
				if err := handler(chat.StreamEvent{Kind: chat.EventTextDelta, Text: delta.Text}); err != nil {
					return err
				}
			case "input_json_delta":
				id, ok := toolIDByIndex[event.Index]
				if !ok {
					return provider.Errf(provider.BackendAnthropic, "stream",
						provider.KindUpstreamProtocol,
						"argument delta for unknown block index %d", event.Index)
				}
				if err := handler(chat.StreamEvent{
					Kind:             chat.EventToolCallArgDelta,
					ID:               id,
					ArgumentFragment: delta.PartialJSON,
				}); err != nil {
					return err
				}
			}

		case sdk.MessageStreamEventTypeContentBlockStop:
			if id, ok := toolIDByIndex[event.Index]; ok {
				delete(toolIDByIndex, event.Index)
				if err := handler(chat.StreamEvent{Kind: chat.EventToolCallEnd, ID: id}); err != nil {
					return err
				}
			}

		case sdk.MessageStreamEventTypeMessageDelta:
			if delta, ok := event.Delta.(sdk.MessageDeltaEventDelta); ok {
				finish = mapStopReason(string(delta.StopReason))
			}
			usage.CompletionTokens = int(event.Usage.OutputTokens)
		}
	}

	if err := s.Err(); err != nil {
		return c.classify(ctx, err)
	}

	return handler(chat.StreamEvent{
		Kind:         chat.EventMessageEnd,
		FinishReason: finish,
		Usage:        &usage,
	})
}
