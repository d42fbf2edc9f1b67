package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/messaging"
	"github.com/segmentio/kafka-go"
)

const writeTimeout = 5 * time.Second

// messageWriter is the part of *kafka.Writer used by the senders.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func newWriter(brokerAddr, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokerAddr),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaMessageSender implements MessageSender using Kafka
type KafkaMessageSender struct {
	writer messageWriter
	topic  string
}

// NewKafkaMessageSender creates a new Kafka message sender
func NewKafkaMessageSender(brokerAddr, topic string) (*KafkaMessageSender, error) {
	if brokerAddr == "" || topic == "" {
		return nil, fmt.Errorf("kafka broker and topic are required")
	}
	return &KafkaMessageSender{
		writer: newWriter(brokerAddr, topic),
		topic:  topic,
	}, nil
}

// SendMatchMessage publishes a settled match keyed by symbol, so matches for
// one symbol stay ordered within a partition.
func (k *KafkaMessageSender) SendMatchMessage(ctx context.Context, match *messaging.MatchMessage) error {
	data, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("failed to marshal match message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(match.Key()),
		Value: data,
		Time:  time.Now(),
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}
	return nil
}

// Close closes the Kafka writer
func (k *KafkaMessageSender) Close() error {
	return k.writer.Close()
}

var _ messaging.MessageSender = (*KafkaMessageSender)(nil)

// ChangeMessage is the published form of a store change.
type ChangeMessage struct {
	Kind  core.ChangeKind `json:"kind"`
	Order *core.Order     `json:"order,omitempty"`
	At    time.Time       `json:"at"`
}

// ChangePublisher forwards store changes to a topic keyed by orderId.
type ChangePublisher struct {
	writer messageWriter
}

// NewChangePublisher creates a publisher writing to topic.
func NewChangePublisher(brokerAddr, topic string) *ChangePublisher {
	return &ChangePublisher{writer: newWriter(brokerAddr, topic)}
}

// Publish writes one change.
func (p *ChangePublisher) Publish(ctx context.Context, change core.Change) error {
	data, err := json.Marshal(ChangeMessage{Kind: change.Kind, Order: change.Order, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	var key []byte
	if change.Order != nil {
		key = []byte(change.Order.OrderID())
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: data})
}

// Run publishes every change received on changes until the channel closes or
// ctx is done. Failed writes are reported through onError and skipped.
func (p *ChangePublisher) Run(ctx context.Context, changes <-chan core.Change, onError func(core.Change, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := p.Publish(ctx, change); err != nil && onError != nil {
				onError(change, err)
			}
		}
	}
}

// Close closes the underlying writer.
func (p *ChangePublisher) Close() error {
	return p.writer.Close()
}
