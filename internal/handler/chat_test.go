package handler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/provider"
	"github.com/modelbridge-ai/modelbridge/internal/retry"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"canceled", retry.ErrCanceled, 499},
		{"translation", provider.Errf(provider.BackendOpenAI, "translate", provider.KindTranslation, "bad"), http.StatusBadRequest},
		{"config", provider.Errf(provider.BackendOpenAI, "config", provider.KindConfig, "bad"), http.StatusBadRequest},
		{"auth", provider.Errf(provider.BackendOpenAI, "request", provider.KindAuth, "bad"), http.StatusBadGateway},
		{"transient", provider.Errf(provider.BackendOpenAI, "request", provider.KindTransient, "bad"), http.StatusServiceUnavailable},
		{"protocol", provider.Errf(provider.BackendOpenAI, "stream", provider.KindUpstreamProtocol, "bad"), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusForError(tc.err); got != tc.want {
				t.Fatalf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestBuildSendRequestDefaults(t *testing.T) {
	h := NewChatHandler(nil, nil, Defaults{
		Backend:   provider.BackendAnthropic,
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 4096,
	}, nil)

	req, err := h.buildSendRequest("c1", &SendMessageRequest{Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if req.Backend != provider.BackendAnthropic {
		t.Fatalf("backend = %q", req.Backend)
	}
	if req.Options.Model != "claude-3-5-sonnet-20241022" || req.Options.MaxTokens != 4096 {
		t.Fatalf("defaults not applied: %+v", req.Options)
	}
	if req.UserTurn.Text() != "hello" {
		t.Fatalf("user turn = %+v", req.UserTurn)
	}
}

func TestBuildSendRequestOverrides(t *testing.T) {
	h := NewChatHandler(nil, nil, Defaults{Backend: provider.BackendAnthropic, MaxTokens: 4096}, nil)

	temp := 0.1
	req, err := h.buildSendRequest("c1", &SendMessageRequest{
		Content:     "hello",
		Backend:     "openai",
		Model:       "gpt-4o",
		MaxTokens:   128,
		Temperature: &temp,
	})
	if err != nil {
		t.Fatal(err)
	}
	if req.Backend != provider.BackendOpenAI {
		t.Fatalf("backend = %q", req.Backend)
	}
	if req.Options.Model != "gpt-4o" || req.Options.MaxTokens != 128 {
		t.Fatalf("overrides lost: %+v", req.Options)
	}
	if req.Options.Temperature == nil || *req.Options.Temperature != 0.1 {
		t.Fatalf("temperature = %v", req.Options.Temperature)
	}
}

func TestBuildSendRequestRejectsEmptyContent(t *testing.T) {
	h := NewChatHandler(nil, nil, Defaults{Backend: provider.BackendOpenAI}, nil)

	if _, err := h.buildSendRequest("c1", &SendMessageRequest{}); err == nil {
		t.Fatal("empty content without tool results must be rejected")
	}
}

func TestBuildSendRequestToolResultsWithoutContent(t *testing.T) {
	h := NewChatHandler(nil, nil, Defaults{Backend: provider.BackendOpenAI}, nil)

	req, err := h.buildSendRequest("c1", &SendMessageRequest{
		ToolResults: []chat.ToolResult{{ToolCallID: "t1", Payload: []byte(`"ok"`)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(req.UserTurn.Parts) != 1 || req.UserTurn.Parts[0].Kind != chat.PartToolResult {
		t.Fatalf("user turn = %+v", req.UserTurn)
	}
	if req.UserTurn.Parts[0].ToolResult.ToolCallID != "t1" {
		t.Fatal("tool call id must be preserved")
	}
}

func TestBuildSendRequestToolResultsWithContent(t *testing.T) {
	h := NewChatHandler(nil, nil, Defaults{Backend: provider.BackendOpenAI}, nil)

	req, err := h.buildSendRequest("c1", &SendMessageRequest{
		Content:     "here are the results",
		ToolResults: []chat.ToolResult{{ToolCallID: "t1", Payload: []byte(`"ok"`)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(req.UserTurn.Parts) != 2 {
		t.Fatalf("parts = %+v", req.UserTurn.Parts)
	}
	if req.UserTurn.Text() != "here are the results" {
		t.Fatalf("text = %q", req.UserTurn.Text())
	}
}

func TestBuildSendRequestRejectsBadToolName(t *testing.T) {
	h := NewChatHandler(nil, nil, Defaults{Backend: provider.BackendOpenAI}, nil)

	_, err := h.buildSendRequest("c1", &SendMessageRequest{
		Content: "hi",
		Tools:   []chat.ToolSchema{{Name: ""}},
	})
	if err == nil {
		t.Fatal("unnamed tool must be rejected")
	}
}
