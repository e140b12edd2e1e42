package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/modelbridge-ai/modelbridge/internal/chat"
)

const (
	// StreamName is the name of the transcripts stream.
	StreamName = "TRANSCRIPTS"

	// SubjectPrefix is the prefix for all transcript subjects.
	SubjectPrefix = "transcript"
)

// TranscriptStore persists completed Turns per conversation.
type TranscriptStore struct {
	client *Client
}

// NewTranscriptStore creates a transcript store over an established client.
func NewTranscriptStore(client *Client) *TranscriptStore {
	return &TranscriptStore{client: client}
}

// EnsureStream ensures the transcripts stream exists.
func (s *TranscriptStore) EnsureStream(ctx context.Context) error {
	js := s.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Completed conversation turns",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// TurnSubject returns the subject a Turn is published to.
func TurnSubject(conversationID string, role chat.Role) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, conversationID, role)
}

// conversationFilter matches every Turn of one conversation.
func conversationFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, conversationID)
}

// PublishTurn appends a completed Turn to the conversation's transcript and
// returns its stream sequence.
func (s *TranscriptStore) PublishTurn(ctx context.Context, conversationID string, turn *chat.Turn) (uint64, error) {
	data, err := json.Marshal(turn)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal turn: %w", err)
	}

	ack, err := s.client.JetStream().Publish(ctx, TurnSubject(conversationID, turn.Role), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish turn: %w", err)
	}
	return ack.Sequence, nil
}

// GetTurns replays Turns of a conversation starting after a stream sequence.
func (s *TranscriptStore) GetTurns(ctx context.Context, conversationID string, afterSequence uint64, limit int) ([]chat.Turn, uint64, bool, error) {
	js := s.client.JetStream()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: conversationFilter(conversationID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch turns: %w", err)
	}

	var turns []chat.Turn
	var lastSequence uint64
	for msg := range batch.Messages() {
		var turn chat.Turn
		if err := json.Unmarshal(msg.Data(), &turn); err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			turn.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}
		turns = append(turns, turn)
	}
	if batch.Error() != nil && batch.Error() != context.DeadlineExceeded {
		return nil, 0, false, fmt.Errorf("batch error: %w", batch.Error())
	}

	return turns, lastSequence, len(turns) == limit, nil
}
