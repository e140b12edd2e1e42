package anthropic

import (
	"encoding/json"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/provider"
	"github.com/modelbridge-ai/modelbridge/internal/schema"
	"github.com/modelbridge-ai/modelbridge/pkg/metrics"
)

// buildParams translates a Request into Anthropic message parameters. The
// repair pre-pass runs first; on discard the request carries only the latest
// genuine user request plus system and tool configuration.
func (c *Client) buildParams(req *provider.Request) (sdk.MessageNewParams, error) {
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
			return sdk.MessageNewParams{}, provider.Errf(
				provider.BackendAnthropic, "translate", provider.KindTranslation,
				"history discarded but no user request found")
		}
		conv = reduced
	} else {
		conv = repaired.Conversation
	}

	model := req.Options.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	messages, system, err := c.buildMessages(conv, req.Options)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.F(model),
		MaxTokens: sdk.F(int64(maxTokens)),
		Messages:  sdk.F(messages),
	}
	if system != "" {
		params.System = sdk.F([]sdk.TextBlockParam{{
			Type: sdk.F(sdk.TextBlockParamTypeText),
			Text: sdk.F(system),
		}})
	}
	if req.Options.Temperature != nil {
		params.Temperature = sdk.F(*req.Options.Temperature)
	}
	if req.Options.TopP != nil {
		params.TopP = sdk.F(*req.Options.TopP)
	}
	if len(req.Options.StopSequences) > 0 {
		params.StopSequences = sdk.F(req.Options.StopSequences)
	}

	tools, err := c.buildTools(req.Tools)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}
	if len(tools) > 0 {
		params.Tools = sdk.F(tools)
	}
	return params, nil
}

// buildMessages maps turns to message params. The wire protocol carries the
// system instruction outside the messages array, so a dedicated system turn
// is extracted rather than mapped; a generation-option prompt wins over it.
// Orphaned tool results are dropped, never sent upstream.
func (c *Client) buildMessages(conv chat.Conversation, opts chat.GenerationOptions) ([]sdk.MessageParam, string, error) {
	system := opts.SystemPrompt

	issued := make(map[string]struct{})
	var dropped []string
	var messages []sdk.MessageParam

	for _, turn := range conv.Turns {
		switch turn.Role {
		case chat.RoleSystem:
			if system == "" {
				system = turn.Text()
			}

		case chat.RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			for _, p := range turn.Parts {
				switch p.Kind {
				case chat.PartText:
					if p.Text == "" {
						continue
					}
					blocks = append(blocks, sdk.TextBlockParam{
						Type: sdk.F(sdk.TextBlockParamTypeText),
						Text: sdk.F(p.Text),
					})
				case chat.PartToolCall:
					if p.ToolCall == nil {
						continue
					}
					if p.ToolCall.ID == "" {
						return nil, "", provider.Errf(provider.BackendAnthropic, "translate",
							provider.KindTranslation, "tool call %q has no id", p.ToolCall.Name)
					}
					issued[p.ToolCall.ID] = struct{}{}
					blocks = append(blocks, sdk.ToolUseBlockParam{
						Type:  sdk.F(sdk.ToolUseBlockParamTypeToolUse),
						ID:    sdk.F(p.ToolCall.ID),
						Name:  sdk.F(p.ToolCall.Name),
						Input: sdk.F[interface{}](json.RawMessage(p.ToolCall.Arguments)),
					})
				}
			}
			if len(blocks) == 0 {
				// Filler sentinel for an empty assistant turn.
				blocks = append(blocks, sdk.TextBlockParam{
					Type: sdk.F(sdk.TextBlockParamTypeText),
					Text: sdk.F(""),
				})
			}
			messages = append(messages, sdk.MessageParam{
				Role:    sdk.F(sdk.MessageParamRoleAssistant),
				Content: sdk.F(blocks),
			})

		case chat.RoleUser:
			var blocks []sdk.ContentBlockParamUnion
			for _, p := range turn.Parts {
				switch p.Kind {
				case chat.PartText:
					blocks = append(blocks, sdk.TextBlockParam{
						Type: sdk.F(sdk.TextBlockParamTypeText),
						Text: sdk.F(p.Text),
					})
				case chat.PartToolResult:
					if p.ToolResult == nil {
						continue
					}
					if _, ok := issued[p.ToolResult.ToolCallID]; !ok {
						dropped = append(dropped, p.ToolResult.ToolCallID)
						continue
					}
					blocks = append(blocks, sdk.ToolResultBlockParam{
						Type:      sdk.F(sdk.ToolResultBlockParamTypeToolResult),
						ToolUseID: sdk.F(p.ToolResult.ToolCallID),
						IsError:   sdk.F(p.ToolResult.IsError),
						Content: sdk.F([]sdk.ToolResultBlockParamContentUnion{
							sdk.ToolResultBlockParamContent{
								Type: sdk.F(sdk.ToolResultBlockParamContentTypeText),
								Text: sdk.F(string(p.ToolResult.Payload)),
							},
						}),
					})
				}
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, sdk.MessageParam{
				Role:    sdk.F(sdk.MessageParamRoleUser),
				Content: sdk.F(blocks),
			})
		}
	}

	if len(dropped) > 0 {
		metrics.OrphanedToolResults.WithLabelValues(string(provider.BackendAnthropic)).Add(float64(len(dropped)))
		c.logger.Warn("dropped orphaned tool results",
			zap.String("conversation_id", conv.ID),
			zap.Strings("tool_call_ids", dropped),
		)
	}
	return messages, system, nil
}

// buildTools translates the tool-schema set through the cache. Anthropic
// validates the format keyword strictly, so the strict ruleset applies.
func (c *Client) buildTools(tools []chat.ToolSchema) ([]sdk.ToolParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	key, err := schema.Key(string(provider.BackendAnthropic), tools)
	if err != nil {
		return nil, provider.WrapErr(provider.BackendAnthropic, "translate", provider.KindTranslation, err)
	}

	v, err := c.schemas.GetOrBuild(key, func() (any, error) {
		out := make([]sdk.ToolParam, 0, len(tools))
		for _, t := range tools {
			doc, err := schema.Normalize(t.Parameters, schema.StrictFormatRules())
			if err != nil {
				return nil, provider.WrapErr(provider.BackendAnthropic, "translate", provider.KindTranslation, err)
			}
			out = append(out, sdk.ToolParam{
				Name:        sdk.F(t.Name),
				Description: sdk.F(t.Description),
				InputSchema: sdk.F[interface{}](doc),
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]sdk.ToolParam), nil
}
