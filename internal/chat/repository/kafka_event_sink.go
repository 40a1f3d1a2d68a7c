package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"chat_sync_service/internal/chat/domain"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter the subset of *kafka.Writer used by the sink
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventSink write confirmed events to a kafka topic, keyed by
// conversation (or user for presence) so one key keeps its order.
type KafkaEventSink struct {
	writer KafkaWriter
}

// NewKafkaEventSink create KafkaEventSink
func NewKafkaEventSink(writer KafkaWriter) *KafkaEventSink {
	return &KafkaEventSink{writer: writer}
}

// Emit write one event
func (k *KafkaEventSink) Emit(ctx context.Context, evt domain.Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	key := evt.ConversationID
	if key == "" {
		key = evt.UserID
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(evt.Action)},
		},
	}); err != nil {
		return fmt.Errorf("kafka write %s: %w", evt.Action, err)
	}
	return nil
}

// Close flush and close the writer
func (k *KafkaEventSink) Close() error {
	return k.writer.Close()
}
