package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/middleware"
	"github.com/modelbridge-ai/modelbridge/pkg/metrics"
)

// TokenEvent is the SSE payload for one text delta.
type TokenEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// TurnCompleteEvent is the SSE payload emitted once the Turn is reassembled.
type TurnCompleteEvent struct {
	Turn     chat.Turn `json:"turn"`
	Attempts int       `json:"attempts"`
}

// ErrorEvent is the SSE payload for a failed exchange.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Stream handles POST /api/v1/conversations/{id}/stream
// It accepts a message and streams the response: token events as text
// arrives, tool_call events as calls complete, warning events for degraded
// output, then turn_complete and done.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
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

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	index := 0
	result, err := h.chatService.SendStream(ctx, sendReq, func(text string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		err := sendSSEEvent(w, flusher, "token", &TokenEvent{Token: text, Index: index})
		index++
		return err
	})
	if err != nil {
		sendSSEEvent(w, flusher, "error", &ErrorEvent{
			Code:    "stream_error",
			Message: err.Error(),
		})
		return
	}

	for _, tc := range result.AssistantTurn.ToolCalls() {
		if err := sendSSEEvent(w, flusher, "tool_call", tc); err != nil {
			return
		}
	}
	for _, warning := range result.Warnings {
		if err := sendSSEEvent(w, flusher, "warning", warning); err != nil {
			return
		}
	}

	if err := sendSSEEvent(w, flusher, "turn_complete", &TurnCompleteEvent{
		Turn:     result.AssistantTurn,
		Attempts: result.Attempts,
	}); err != nil {
		return
	}
	sendSSEEvent(w, flusher, "done", map[string]bool{"success": true})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
