package kafka

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// messageReader is the part of *kafka.Reader used by EventReader.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventReader reads inbound gateway events from a topic. Each payload is
// committed once it has been handed to the caller, so a crash redelivers at
// most the event in flight.
type EventReader struct {
	reader  messageReader
	logger  zerolog.Logger
	pending *kafka.Message
}

// NewEventReader creates a consumer-group reader for topic.
func NewEventReader(brokerAddr, topic, groupID string, logger zerolog.Logger) (*EventReader, error) {
	if brokerAddr == "" || topic == "" {
		return nil, fmt.Errorf("kafka broker and topic are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &EventReader{reader: reader, logger: logger}, nil
}

// Next commits the previously returned event and blocks for the next one.
func (r *EventReader) Next(ctx context.Context) ([]byte, error) {
	if r.pending != nil {
		if err := r.reader.CommitMessages(ctx, *r.pending); err != nil {
			r.logger.Warn().Err(err).Int64("offset", r.pending.Offset).Msg("Failed to commit event offset")
		}
		r.pending = nil
	}

	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Debug().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("Received event")
	r.pending = &msg
	return msg.Value, nil
}

// Close closes the reader.
func (r *EventReader) Close() error {
	return r.reader.Close()
}
