package openai

import (
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/provider"
	"github.com/modelbridge-ai/modelbridge/internal/schema"
	"github.com/modelbridge-ai/modelbridge/pkg/metrics"
)

// buildRequest translates a Request into the OpenAI wire format. The repair
// pre-pass runs first; on discard the request carries only the latest genuine
// user request plus system and tool configuration.
func (c *Client) buildRequest(req *provider.Request) (goopenai.ChatCompletionRequest, error) {
	conv := req.Conversation

	repaired := chat.Repair(conv, c.repairPolicy)
	if repaired.DiscardHistory {
		metrics.DiscardedHistories.Inc()
		c.logger.Warn("conversation history corrupted, sending latest request only",
			zap.String("conversation_id", conv.ID),
			zap.Int("orphaned_tool_results", len(repaired.OrphanIDs)),
			zap.Strings("orphan_ids", repaired.OrphanIDs),
		)
		reduced, ok := conv.ReduceToLatestRequest()
		if !ok {
			return goopenai.ChatCompletionRequest{}, provider.Errf(
				provider.BackendOpenAI, "translate", provider.KindTranslation,
				"history discarded but no user request found")
		}
		conv = reduced
	} else {
		conv = repaired.Conversation
	}

	messages, err := c.buildMessages(conv, req.Options)
	if err != nil {
		return goopenai.ChatCompletionRequest{}, err
	}

	tools, err := c.buildTools(req.Tools)
	if err != nil {
		return goopenai.ChatCompletionRequest{}, err
	}

	model := req.Options.Model
	if model == "" {
		model = defaultModel
	}

	wire := goopenai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.Options.MaxTokens,
		Tools:     tools,
		Stop:      req.Options.StopSequences,
	}
	if req.Options.Temperature != nil {
		wire.Temperature = float32(*req.Options.Temperature)
	}
	if req.Options.TopP != nil {
		wire.TopP = float32(*req.Options.TopP)
	}
	return wire, nil
}

// buildMessages maps turns to chat-completion messages. Tool results become
// standalone tool-role messages keyed by the originating call id; orphaned
// results are dropped, never sent upstream.
func (c *Client) buildMessages(conv chat.Conversation, opts chat.GenerationOptions) ([]goopenai.ChatCompletionMessage, error) {
	var messages []goopenai.ChatCompletionMessage

	if opts.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: opts.SystemPrompt,
		})
	}

	issued := make(map[string]struct{})
	var dropped []string

	for _, turn := range conv.Turns {
		switch turn.Role {
		case chat.RoleSystem:
			// A dedicated system turn only applies when options did not
			// already supply the instruction.
			if opts.SystemPrompt == "" {
				messages = append(messages, goopenai.ChatCompletionMessage{
					Role:    goopenai.ChatMessageRoleSystem,
					Content: turn.Text(),
				})
			}

		case chat.RoleAssistant:
			msg := goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleAssistant,
				Content: turn.Text(),
			}
			for _, p := range turn.Parts {
				if p.Kind != chat.PartToolCall || p.ToolCall == nil {
					continue
				}
				if p.ToolCall.ID == "" {
					return nil, provider.Errf(provider.BackendOpenAI, "translate",
						provider.KindTranslation, "tool call %q has no id", p.ToolCall.Name)
				}
				issued[p.ToolCall.ID] = struct{}{}
				msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
					ID:   p.ToolCall.ID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      p.ToolCall.Name,
						Arguments: string(p.ToolCall.Arguments),
					},
				})
			}
			messages = append(messages, msg)

		case chat.RoleUser:
			var text string
			flush := func() {
				if text != "" {
					messages = append(messages, goopenai.ChatCompletionMessage{
						Role:    goopenai.ChatMessageRoleUser,
						Content: text,
					})
					text = ""
				}
			}
			for _, p := range turn.Parts {
				switch p.Kind {
				case chat.PartText:
					text += p.Text
				case chat.PartToolResult:
					if p.ToolResult == nil {
						continue
					}
					if _, ok := issued[p.ToolResult.ToolCallID]; !ok {
						dropped = append(dropped, p.ToolResult.ToolCallID)
						continue
					}
					flush()
					messages = append(messages, goopenai.ChatCompletionMessage{
						Role:       goopenai.ChatMessageRoleTool,
						ToolCallID: p.ToolResult.ToolCallID,
						Content:    string(p.ToolResult.Payload),
					})
				}
			}
			flush()
		}
	}

	if len(dropped) > 0 {
		metrics.OrphanedToolResults.WithLabelValues(string(provider.BackendOpenAI)).Add(float64(len(dropped)))
		c.logger.Warn("dropped orphaned tool results",
			zap.String("conversation_id", conv.ID),
			zap.Strings("tool_call_ids", dropped),
		)
	}
	return messages, nil
}

// buildTools translates the tool-schema set through the cache.
func (c *Client) buildTools(tools []chat.ToolSchema) ([]goopenai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	key, err := schema.Key(string(provider.BackendOpenAI), tools)
	if err != nil {
		return nil, provider.WrapErr(provider.BackendOpenAI, "translate", provider.KindTranslation, err)
	}

	v, err := c.schemas.GetOrBuild(key, func() (any, error) {
		out := make([]goopenai.Tool, 0, len(tools))
		for _, t := range tools {
			doc, err := schema.Normalize(t.Parameters, schema.CommonRules())
			if err != nil {
				return nil, provider.WrapErr(provider.BackendOpenAI, "translate", provider.KindTranslation, err)
			}
			out = append(out, goopenai.Tool{
				Type: goopenai.ToolTypeFunction,
				Function: &goopenai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  doc,
				},
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]goopenai.Tool), nil
}
