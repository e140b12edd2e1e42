// Package service orchestrates the adapter pipeline: repair and translation
// inside the backend clients, retries around the exchange, stream reassembly,
// and transcript persistence.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
	"github.com/modelbridge-ai/modelbridge/internal/provider"
	"github.com/modelbridge-ai/modelbridge/internal/retry"
	"github.com/modelbridge-ai/modelbridge/internal/store"
	"github.com/modelbridge-ai/modelbridge/internal/stream"
	"github.com/modelbridge-ai/modelbridge/pkg/logger"
	"github.com/modelbridge-ai/modelbridge/pkg/metrics"
)

// session holds per-conversation state. The mutex serializes exchanges: at
// most one outstanding request or stream per conversation.
type session struct {
	mu   sync.Mutex
	conv chat.Conversation
}

// ChatService routes a conversation exchange through a pooled backend client.
type ChatService struct {
	pool        *provider.Pool
	credentials map[provider.Backend]string
	executor    *retry.Executor
	transcripts *store.TranscriptStore
	logger      *logger.Logger
	tracer      trace.Tracer

	sessionsMu sync.Mutex
	sessions   map[string]*session
}

// NewChatService creates the orchestration service. transcripts may be nil
// when persistence is not configured.
func NewChatService(
	pool *provider.Pool,
	credentials map[provider.Backend]string,
	executor *retry.Executor,
	transcripts *store.TranscriptStore,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		pool:        pool,
		credentials: credentials,
		executor:    executor,
		transcripts: transcripts,
		logger:      log,
		tracer:      otel.Tracer("modelbridge/service"),
		sessions:    make(map[string]*session),
	}
}

// SendRequest is one caller-facing exchange.
type SendRequest struct {
	ConversationID string
	Backend        provider.Backend
	UserTurn       chat.Turn
	Tools          []chat.ToolSchema
	Options        chat.GenerationOptions
}

// SendResult carries the reconstructed assistant Turn plus any data-quality
// warnings observed while reassembling it.
type SendResult struct {
	UserTurn      chat.Turn
	AssistantTurn chat.Turn
	Warnings      []chat.Warning
	Attempts      int
}

// Conversation returns a copy of the current conversation history.
func (s *ChatService) Conversation(conversationID string) chat.Conversation {
	sess := s.session(conversationID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.conv.Clone()
}

func (s *ChatService) session(conversationID string) *session {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		sess = &session{conv: chat.NewConversation(conversationID)}
		s.sessions[conversationID] = sess
	}
	return sess
}

// Send performs a non-streaming exchange and appends both Turns to the
// conversation.
func (s *ChatService) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	return s.exchange(ctx, req, nil)
}

// SendStream performs a streaming exchange. onText receives text deltas as
// they arrive; the completed Turn is returned once the stream ends.
func (s *ChatService) SendStream(ctx context.Context, req *SendRequest, onText stream.TextFunc) (*SendResult, error) {
	return s.exchange(ctx, req, onText)
}

func (s *ChatService) exchange(ctx context.Context, req *SendRequest, onText stream.TextFunc) (*SendResult, error) {
	client, err := s.client(req.Backend)
	if err != nil {
		return nil, err
	}

	sess := s.session(req.ConversationID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	mode := "complete"
	if onText != nil {
		mode = "stream"
	}

	ctx, span := s.tracer.Start(ctx, "chat.exchange",
		trace.WithAttributes(
			attribute.String("backend", string(req.Backend)),
			attribute.String("mode", mode),
			attribute.String("conversation_id", req.ConversationID),
		))
	defer span.End()

	userTurn := req.UserTurn
	userTurn.ID = uuid.Must(uuid.NewV7()).String()
	userTurn.CreatedAt = time.Now()
	working := sess.conv.Append(userTurn)

	provReq := &provider.Request{
		Conversation: working,
		Tools:        req.Tools,
		Options:      req.Options,
	}

	start := time.Now()
	var assistant *chat.Turn
	var warnings []chat.Warning

	result, err := s.executor.Execute(ctx, func(ctx context.Context) error {
		if onText == nil {
			turn, err := client.Complete(ctx, provReq)
			if err != nil {
				return err
			}
			assistant = turn
			return nil
		}

		// A fresh reassembler per attempt: a failed attempt's partial state
		// must not leak into the next one. Once any event has surfaced the
		// attempt is no longer safely retryable, so the failure is pinned
		// as permanent below via eventsSeen.
		r := stream.New(onText)
		var eventsSeen bool
		err := client.CompleteStream(ctx, provReq, func(ev chat.StreamEvent) error {
			eventsSeen = true
			return r.Apply(ev)
		})
		if err != nil {
			if eventsSeen {
				if e, ok := provider.AsError(err); ok && e.Kind == provider.KindTransient {
					e.Kind = provider.KindUpstreamProtocol
				}
			}
			return err
		}
		turn, w, err := r.Finish()
		if err != nil {
			return err
		}
		assistant = turn
		warnings = w
		return nil
	})

	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordExchange(string(req.Backend), mode, "error", elapsed, 0, 0)
		span.RecordError(err)
		if e, ok := provider.AsError(err); ok {
			e.Attempts = result.Attempts
		}
		s.logger.WithExchange(req.ConversationID, string(req.Backend)).Error("exchange failed",
			zap.Error(err),
			zap.Int("attempts", result.Attempts),
		)
		return nil, err
	}

	assistant.ID = uuid.Must(uuid.NewV7()).String()
	assistant.CreatedAt = time.Now()
	sess.conv = working.Append(*assistant)

	usage := chat.Usage{}
	if assistant.Usage != nil {
		usage = *assistant.Usage
	}
	metrics.RecordExchange(string(req.Backend), mode, "ok", elapsed, usage.PromptTokens, usage.CompletionTokens)

	log := s.logger.WithExchange(req.ConversationID, string(req.Backend))
	log.Info("exchange complete",
		zap.String("mode", mode),
		zap.Int("attempts", result.Attempts),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.String("finish_reason", string(assistant.FinishReason)),
		zap.Int("warnings", len(warnings)),
	)
	for _, w := range warnings {
		log.Warn("stream data-quality warning",
			zap.String("tool_call_id", w.ToolCallID),
			zap.String("reason", w.Reason),
		)
	}

	s.persist(ctx, req.ConversationID, &userTurn, assistant)

	return &SendResult{
		UserTurn:      userTurn,
		AssistantTurn: *assistant,
		Warnings:      warnings,
		Attempts:      result.Attempts,
	}, nil
}

// AppendToolResults appends a user Turn carrying tool execution results. The
// caller must reuse the exact ids from the originating tool calls.
func (s *ChatService) AppendToolResults(ctx context.Context, conversationID string, results []chat.ToolResult) chat.Turn {
	parts := make([]chat.Part, 0, len(results))
	for _, r := range results {
		parts = append(parts, chat.Part{Kind: chat.PartToolResult, ToolResult: &chat.ToolResult{
			ToolCallID: r.ToolCallID,
			Payload:    r.Payload,
			IsError:    r.IsError,
		}})
	}
	turn := chat.Turn{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      chat.RoleUser,
		Parts:     parts,
		CreatedAt: time.Now(),
	}

	sess := s.session(conversationID)
	sess.mu.Lock()
	sess.conv = sess.conv.Append(turn)
	sess.mu.Unlock()

	s.persist(ctx, conversationID, &turn, nil)
	return turn
}

// persist writes completed turns to the transcript store, best-effort.
func (s *ChatService) persist(ctx context.Context, conversationID string, turns ...*chat.Turn) {
	if s.transcripts == nil {
		return
	}
	for _, t := range turns {
		if t == nil {
			continue
		}
		if _, err := s.transcripts.PublishTurn(ctx, conversationID, t); err != nil {
			s.logger.Warn("failed to persist turn",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}
}

// client resolves the pooled client for a backend.
func (s *ChatService) client(backend provider.Backend) (provider.Client, error) {
	creds, ok := s.credentials[backend]
	if !ok {
		return nil, provider.Errf(backend, "config", provider.KindConfig,
			"no credentials configured for backend")
	}
	return s.pool.Get(backend, creds)
}
