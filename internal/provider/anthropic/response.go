package anthropic

import (
	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/provider"
)

// translateResponse maps a complete message response into an internal
// assistant Turn, preserving provider-assigned tool-use ids exactly.
func translateResponse(resp *sdk.Message) (*chat.Turn, error) {
	if resp == nil {
		return nil, provider.Errf(provider.BackendAnthropic, "translate",
			provider.KindUpstreamProtocol, "empty response")
	}

	var parts []chat.Part
	for _, block := range resp.Content {
		switch block.Type {
		case sdk.ContentBlockTypeText:
			parts = append(parts, chat.TextPart(block.Text))
		case sdk.ContentBlockTypeToolUse:
			parts = append(parts, chat.ToolCallPart(block.ID, block.Name, block.Input))
		}
	}

	turn := chat.AssistantTurn(parts...)
	turn.FinishReason = mapStopReason(string(resp.StopReason))
	turn.Usage = &chat.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}
	return &turn, nil
}

func mapStopReason(reason string) chat.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence", "tool_use":
		return chat.FinishStop
	case "max_tokens":
		return chat.FinishMaxOutputReached
	default:
		return chat.FinishOther
	}
}
