package openai

import (
	"encoding/json"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/provider"
)

// translateResponse maps a complete chat-completion response into an internal
// assistant Turn, preserving provider-assigned tool-call ids exactly.
func translateResponse(resp goopenai.ChatCompletionResponse) (*chat.Turn, error) {
	if len(resp.Choices) == 0 {
		return nil, provider.Errf(provider.BackendOpenAI, "translate",
			provider.KindUpstreamProtocol, "response has no choices")
	}
	choice := resp.Choices[0]

	var parts []chat.Part
	if choice.Message.Content != "" {
		parts = append(parts, chat.TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, chat.ToolCallPart(tc.ID, tc.Function.Name,
			json.RawMessage(tc.Function.Arguments)))
	}

	turn := chat.AssistantTurn(parts...)
	turn.FinishReason = mapFinishReason(choice.FinishReason)
	turn.Usage = &chat.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	return &turn, nil
}

func mapFinishReason(reason goopenai.FinishReason) chat.FinishReason {
	switch reason {
	case goopenai.FinishReasonStop, goopenai.FinishReasonToolCalls:
		return chat.FinishStop
	case goopenai.FinishReasonLength:
		return chat.FinishMaxOutputReached
	case goopenai.FinishReasonContentFilter:
		return chat.FinishContentFiltered
	default:
		return chat.FinishOther
	}
}
