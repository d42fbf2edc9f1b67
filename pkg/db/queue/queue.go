package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/erain9/orderdesk/pkg/messaging"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTopic receives settled matches when no topic is configured
	DefaultTopic = "orderdesk-matches"
	maxRetry     = 5
)

// newSyncProducer and newConsumer are swapped out by tests.
var (
	newSyncProducer = sarama.NewSyncProducer
	newConsumer     = sarama.NewConsumer
)

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = maxRetry
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// QueueMessageSender implements the MessageSender interface
// for sending settled matches to Kafka through a sarama producer
type QueueMessageSender struct {
	producer sarama.SyncProducer
	topic    string
}

// NewQueueMessageSender connects a synchronous producer to brokers.
func NewQueueMessageSender(brokers []string, topic string) (*QueueMessageSender, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	producer, err := newSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return &QueueMessageSender{producer: producer, topic: topic}, nil
}

// SendMatchMessage sends the match to the queue, keyed by symbol.
func (q *QueueMessageSender) SendMatchMessage(ctx context.Context, match *messaging.MatchMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("failed to marshal match message: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(match.Key()),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := q.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}
	return nil
}

// Close closes the producer
func (q *QueueMessageSender) Close() error {
	return q.producer.Close()
}

// QueueMessageConsumer reads settled matches from partition 0 of a topic.
type QueueMessageConsumer struct {
	consumer  sarama.Consumer
	topic     string
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueueMessageConsumer connects a consumer to brokers.
func NewQueueMessageConsumer(brokers []string, topic string) (*QueueMessageConsumer, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	consumer, err := newConsumer(brokers, sarama.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return &QueueMessageConsumer{consumer: consumer, topic: topic, done: make(chan struct{})}, nil
}

// ConsumeMatchMessages calls handler for every match published after the
// call, until Close. Undecodable payloads are logged and skipped. Errors
// caused by Close or a closed client end consumption without an error.
func (c *QueueMessageConsumer) ConsumeMatchMessages(handler func(*messaging.MatchMessage) error) error {
	pc, err := c.consumer.ConsumePartition(c.topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer pc.Close()

	for {
		select {
		case <-c.done:
			return nil
		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}
			var match messaging.MatchMessage
			if err := json.Unmarshal(msg.Value, &match); err != nil {
				log.Warn().Err(err).
					Str("topic", msg.Topic).
					Int64("offset", msg.Offset).
					Msg("Skipping undecodable match message")
				continue
			}
			if err := handler(&match); err != nil {
				return err
			}
		case cerr, ok := <-pc.Errors():
			if !ok {
				return nil
			}
			if cerr == nil {
				continue
			}
			select {
			case <-c.done:
				return nil
			default:
			}
			if errors.Is(cerr.Err, sarama.ErrClosedClient) {
				return nil
			}
			return cerr
		}
	}
}

// Close stops consumption and closes the consumer
func (c *QueueMessageConsumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.consumer.Close()
	})
	return err
}
