package openai

import (
	"context"
	"encoding/json"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/provider"
	"github.com/modelbridge-ai/modelbridge/internal/schema"
	"github.com/modelbridge-ai/modelbridge/pkg/logger"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	c, err := New("test-key", schema.NewCache(8), chat.DefaultRepairPolicy(), logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func toolConversation() chat.Conversation {
	conv := chat.NewConversation("c1")
	conv = conv.Append(chat.UserTurn("list the temp directory"))
	conv = conv.Append(chat.AssistantTurn(
		chat.ToolCallPart("t1", "list_directory", json.RawMessage(`{"path":"/tmp"}`)),
	))
	conv = conv.Append(chat.Turn{Role: chat.RoleUser, Parts: []chat.Part{
		chat.ToolResultPart("t1", json.RawMessage(`["a.txt","b.txt"]`)),
	}})
	return conv
}

func TestBuildRequestRoleAndToolMapping(t *testing.T) {
	c := testClient(t)
	wire, err := c.buildRequest(&provider.Request{
		Conversation: toolConversation(),
		Options:      chat.GenerationOptions{Model: "gpt-4o", SystemPrompt: "be terse"},
	})
	if err != nil {
		t.Fatal(err)
	}

	roles := make([]string, len(wire.Messages))
	for i, m := range wire.Messages {
		roles[i] = m.Role
	}
	want := []string{
		goopenai.ChatMessageRoleSystem,
		goopenai.ChatMessageRoleUser,
		goopenai.ChatMessageRoleAssistant,
		goopenai.ChatMessageRoleTool,
	}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("roles = %v, want %v", roles, want)
		}
	}

	asst := wire.Messages[2]
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "t1" {
		t.Fatalf("tool call id must be preserved: %+v", asst.ToolCalls)
	}
	if asst.ToolCalls[0].Function.Name != "list_directory" {
		t.Fatalf("tool name = %q", asst.ToolCalls[0].Function.Name)
	}

	result := wire.Messages[3]
	if result.ToolCallID != "t1" {
		t.Fatalf("tool result keyed to %q, want t1", result.ToolCallID)
	}
}

func TestBuildRequestDropsOrphanedResult(t *testing.T) {
	c := testClient(t)
	conv := toolConversation()
	conv = conv.Append(chat.Turn{Role: chat.RoleUser, Parts: []chat.Part{
		chat.ToolResultPart("orphan-9", json.RawMessage(`"stale"`)),
		chat.TextPart("and now continue"),
	}})

	wire, err := c.buildRequest(&provider.Request{Conversation: conv})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range wire.Messages {
		if m.ToolCallID == "orphan-9" {
			t.Fatal("orphaned tool result must never be sent upstream")
		}
	}
	last := wire.Messages[len(wire.Messages)-1]
	if last.Role != goopenai.ChatMessageRoleUser || last.Content != "and now continue" {
		t.Fatalf("text alongside the orphan must survive: %+v", last)
	}
}

func TestBuildRequestDiscardsCorruptedHistory(t *testing.T) {
	c := testClient(t)
	conv := chat.NewConversation("c1")
	conv = conv.Append(chat.UserTurn("original request"))
	conv = conv.Append(chat.Turn{Role: chat.RoleUser, Parts: []chat.Part{
		chat.ToolResultPart("x1", nil),
		chat.ToolResultPart("x2", nil),
		chat.ToolResultPart("x3", nil),
	}})

	wire, err := c.buildRequest(&provider.Request{
		Conversation: conv,
		Options:      chat.GenerationOptions{SystemPrompt: "be terse"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// System prompt plus the latest genuine user request only.
	if len(wire.Messages) != 2 {
		t.Fatalf("discard must keep only system and latest request, got %+v", wire.Messages)
	}
	if wire.Messages[1].Content != "original request" {
		t.Fatalf("latest request = %q", wire.Messages[1].Content)
	}
}

func TestBuildRequestDiscardKeepsSystemTurn(t *testing.T) {
	c := testClient(t)
	conv := chat.NewConversation("c1")
	conv = conv.Append(chat.SystemTurn("be terse"))
	conv = conv.Append(chat.UserTurn("what now"))
	conv = conv.Append(chat.Turn{Role: chat.RoleUser, Parts: []chat.Part{
		chat.ToolResultPart("x1", nil),
		chat.ToolResultPart("x2", nil),
		chat.ToolResultPart("x3", nil),
	}})

	wire, err := c.buildRequest(&provider.Request{Conversation: conv})
	if err != nil {
		t.Fatal(err)
	}
	if len(wire.Messages) != 2 {
		t.Fatalf("got %d messages, want system plus latest request", len(wire.Messages))
	}
	if wire.Messages[0].Role != goopenai.ChatMessageRoleSystem || wire.Messages[0].Content != "be terse" {
		t.Fatalf("system instruction must survive discard: %+v", wire.Messages[0])
	}
	if wire.Messages[1].Content != "what now" {
		t.Fatalf("latest request = %+v", wire.Messages[1])
	}
}

func TestBuildRequestRejectsToolCallWithoutID(t *testing.T) {
	c := testClient(t)
	conv := chat.NewConversation("c1")
	conv = conv.Append(chat.UserTurn("go"))
	conv = conv.Append(chat.AssistantTurn(chat.ToolCallPart("", "run", json.RawMessage(`{}`))))

	_, err := c.buildRequest(&provider.Request{Conversation: conv})
	perr, ok := provider.AsError(err)
	if !ok || perr.Kind != provider.KindTranslation {
		t.Fatalf("expected translation error, got %v", err)
	}
}

func TestBuildRequestSystemTurnDeferredToOptions(t *testing.T) {
	c := testClient(t)
	conv := chat.NewConversation("c1")
	conv = conv.Append(chat.SystemTurn("turn instruction"))
	conv = conv.Append(chat.UserTurn("hi"))

	wire, err := c.buildRequest(&provider.Request{
		Conversation: conv,
		Options:      chat.GenerationOptions{SystemPrompt: "options instruction"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var systems []string
	for _, m := range wire.Messages {
		if m.Role == goopenai.ChatMessageRoleSystem {
			systems = append(systems, m.Content)
		}
	}
	if len(systems) != 1 || systems[0] != "options instruction" {
		t.Fatalf("options prompt must win: %v", systems)
	}
}

func TestBuildRequestGenerationOptions(t *testing.T) {
	c := testClient(t)
	temp := 0.2
	topP := 0.9
	conv := chat.NewConversation("c1")
	conv = conv.Append(chat.UserTurn("hi"))

	wire, err := c.buildRequest(&provider.Request{
		Conversation: conv,
		Options: chat.GenerationOptions{
			MaxTokens:     256,
			Temperature:   &temp,
			TopP:          &topP,
			StopSequences: []string{"END"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if wire.Model != defaultModel {
		t.Fatalf("model = %q, want default", wire.Model)
	}
	if wire.MaxTokens != 256 || wire.Temperature != 0.2 || wire.TopP != 0.9 {
		t.Fatalf("sampling options lost: %+v", wire)
	}
	if len(wire.Stop) != 1 || wire.Stop[0] != "END" {
		t.Fatalf("stop sequences = %v", wire.Stop)
	}
}

func TestBuildToolsNormalizesAndCaches(t *testing.T) {
	c := testClient(t)
	tools := []chat.ToolSchema{{
		Name:        "read_file",
		Description: "read a file",
		Parameters:  json.RawMessage(`{"properties":{"path":{"type":"string"}},"required":"path"}`),
	}}

	first, err := c.buildTools(tools)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || first[0].Function.Name != "read_file" {
		t.Fatalf("tools = %+v", first)
	}
	doc := first[0].Function.Parameters.(map[string]any)
	if doc["type"] != "object" {
		t.Fatalf("normalization not applied: %v", doc)
	}
	if _, ok := doc["required"].([]any); !ok {
		t.Fatalf("required not coerced: %v", doc["required"])
	}

	if c.schemas.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", c.schemas.Len())
	}
	second, err := c.buildTools(tools)
	if err != nil {
		t.Fatal(err)
	}
	if &first[0] != &second[0] {
		t.Fatal("repeat translation must come from the cache")
	}
}

func TestTranslateResponse(t *testing.T) {
	resp := goopenai.ChatCompletionResponse{
		Choices: []goopenai.ChatCompletionChoice{{
			Message: goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleAssistant,
				Content: "checking",
				ToolCalls: []goopenai.ToolCall{{
					ID:   "call_42",
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      "list_directory",
						Arguments: `{"path":"/tmp"}`,
					},
				}},
			},
			FinishReason: goopenai.FinishReasonToolCalls,
		}},
		Usage: goopenai.Usage{PromptTokens: 20, CompletionTokens: 9},
	}

	turn, err := translateResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Text() != "checking" {
		t.Fatalf("text = %q", turn.Text())
	}
	calls := turn.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "call_42" {
		t.Fatalf("calls = %+v", calls)
	}
	if turn.FinishReason != chat.FinishStop {
		t.Fatalf("tool_calls finish must map to stop, got %q", turn.FinishReason)
	}
	if turn.Usage.PromptTokens != 20 || turn.Usage.CompletionTokens != 9 {
		t.Fatalf("usage = %+v", turn.Usage)
	}
}

func TestTranslateResponseNoChoices(t *testing.T) {
	_, err := translateResponse(goopenai.ChatCompletionResponse{})
	perr, ok := provider.AsError(err)
	if !ok || perr.Kind != provider.KindUpstreamProtocol {
		t.Fatalf("expected upstream protocol error, got %v", err)
	}
}

func TestMapFinishReason(t *testing.T) {
	cases := map[goopenai.FinishReason]chat.FinishReason{
		goopenai.FinishReasonStop:          chat.FinishStop,
		goopenai.FinishReasonToolCalls:     chat.FinishStop,
		goopenai.FinishReasonLength:        chat.FinishMaxOutputReached,
		goopenai.FinishReasonContentFilter: chat.FinishContentFiltered,
		goopenai.FinishReasonNull:          chat.FinishOther,
	}
	for in, want := range cases {
		if got := mapFinishReason(in); got != want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassify(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	status := func(code int) error {
		return &goopenai.APIError{HTTPStatusCode: code, Message: "nope"}
	}
	cases := []struct {
		err  error
		kind provider.ErrorKind
	}{
		{status(401), provider.KindAuth},
		{status(403), provider.KindAuth},
		{status(429), provider.KindTransient},
		{status(500), provider.KindTransient},
		{status(400), provider.KindConfig},
		{context.Canceled, provider.KindCanceled},
	}
	for _, tc := range cases {
		perr, ok := provider.AsError(c.classify(ctx, tc.err))
		if !ok || perr.Kind != tc.kind {
			t.Errorf("classify(%v): got %v, want kind %q", tc.err, perr, tc.kind)
		}
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	perr, ok := provider.AsError(c.classify(canceled, status(500)))
	if !ok || perr.Kind != provider.KindCanceled {
		t.Fatal("canceled context must dominate classification")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New("", schema.NewCache(1), chat.DefaultRepairPolicy(), logger.Nop())
	perr, ok := provider.AsError(err)
	if !ok || perr.Kind != provider.KindConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}
