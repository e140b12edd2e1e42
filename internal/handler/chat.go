package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/middleware"
	"github.com/modelbridge-ai/modelbridge/internal/provider"
	"github.com/modelbridge-ai/modelbridge/internal/retry"
	"github.com/modelbridge-ai/modelbridge/internal/service"
	"github.com/modelbridge-ai/modelbridge/internal/store"
	"github.com/modelbridge-ai/modelbridge/pkg/logger"
)

// SendMessageRequest is the request body for message endpoints.
type SendMessageRequest struct {
	Content      string            `json:"content"`
	Backend      string            `json:"backend,omitempty"`
	Model        string            `json:"model,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty"`
	Temperature  *float64          `json:"temperature,omitempty"`
	Tools        []chat.ToolSchema `json:"tools,omitempty"`
	ToolResults  []chat.ToolResult `json:"tool_results,omitempty"`
}

// SendMessageResponse is the response for the non-streaming endpoint.
type SendMessageResponse struct {
	UserTurn      *chat.Turn     `json:"user_turn,omitempty"`
	AssistantTurn *chat.Turn     `json:"assistant_turn"`
	Warnings      []chat.Warning `json:"warnings,omitempty"`
	Attempts      int            `json:"attempts"`
}

// ChatHandler handles message endpoints.
type ChatHandler struct {
	chatService *service.ChatService
	transcripts *store.TranscriptStore
	defaults    Defaults
	logger      *logger.Logger
}

// Defaults are applied when a request omits backend or generation settings.
type Defaults struct {
	Backend   provider.Backend
	Model     string
	MaxTokens int
}

// NewChatHandler creates a new chat handler. transcripts may be nil.
func NewChatHandler(chatService *service.ChatService, transcripts *store.TranscriptStore, defaults Defaults, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		transcripts: transcripts,
		defaults:    defaults,
		logger:      log,
	}
}

// buildSendRequest validates the body and assembles the service request.
func (h *ChatHandler) buildSendRequest(conversationID string, req *SendMessageRequest) (*service.SendRequest, error) {
	if len(req.ToolResults) == 0 {
		if err := middleware.ValidateMessageContent(req.Content); err != nil {
			return nil, err
		}
	}
	for _, t := range req.Tools {
		if err := middleware.ValidateToolName(t.Name); err != nil {
			return nil, err
		}
	}

	backend := h.defaults.Backend
	if req.Backend != "" {
		backend = provider.Backend(req.Backend)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = h.defaults.MaxTokens
	}
	model := req.Model
	if model == "" {
		model = h.defaults.Model
	}

	userTurn := chat.UserTurn(req.Content)
	if len(req.ToolResults) > 0 {
		var parts []chat.Part
		for _, r := range req.ToolResults {
			tr := r
			parts = append(parts, chat.Part{Kind: chat.PartToolResult, ToolResult: &tr})
		}
		if req.Content != "" {
			parts = append(parts, chat.TextPart(req.Content))
		}
		userTurn = chat.Turn{Role: chat.RoleUser, Parts: parts}
	}

	return &service.SendRequest{
		ConversationID: conversationID,
		Backend:        backend,
		UserTurn:       userTurn,
		Tools:          req.Tools,
		Options: chat.GenerationOptions{
			Model:        model,
			SystemPrompt: req.SystemPrompt,
			MaxTokens:    maxTokens,
			Temperature:  req.Temperature,
		},
	}, nil
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sendReq, err := h.buildSendRequest(conversationID, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.chatService.Send(r.Context(), sendReq)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, &SendMessageResponse{
		UserTurn:      &result.UserTurn,
		AssistantTurn: &result.AssistantTurn,
		Warnings:      result.Warnings,
		Attempts:      result.Attempts,
	})
}

// History handles GET /api/v1/conversations/{id}/turns
// Supports ?after_sequence=N when the transcript store is configured.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.transcripts == nil {
		conv := h.chatService.Conversation(conversationID)
		writeJSON(w, http.StatusOK, map[string]any{"turns": conv.Turns})
		return
	}

	var afterSequence uint64
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		if seq, err := strconv.ParseUint(seqStr, 10, 64); err == nil {
			afterSequence = seq
		}
	}

	turns, lastSequence, hasMore, err := h.transcripts.GetTurns(r.Context(), conversationID, afterSequence, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to replay turns")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"turns":         turns,
		"last_sequence": lastSequence,
		"has_more":      hasMore,
	})
}

// statusForError maps adapter failures to HTTP status codes.
func statusForError(err error) int {
	if errors.Is(err, retry.ErrCanceled) {
		// Client went away.
		return 499
	}
	if e, ok := provider.AsError(err); ok {
		switch e.Kind {
		case provider.KindTranslation, provider.KindConfig:
			return http.StatusBadRequest
		case provider.KindAuth:
			return http.StatusBadGateway
		case provider.KindTransient:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}
