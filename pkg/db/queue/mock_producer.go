package queue

import (
	"sync"

	"github.com/IBM/sarama"
)

// MockProducer implements sarama.SyncProducer in memory. Tests and local
// runs without a broker use it in place of a real producer.
type MockProducer struct {
	mu           sync.Mutex
	sentMessages []*sarama.ProducerMessage
	err          error
	closed       bool
}

// NewMockProducer creates an empty MockProducer
func NewMockProducer() *MockProducer {
	return &MockProducer{}
}

// FailWith makes following sends return err
func (m *MockProducer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Sent returns a copy of the messages sent so far
func (m *MockProducer) Sent() []*sarama.ProducerMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*sarama.ProducerMessage(nil), m.sentMessages...)
}

// Closed reports whether Close was called
func (m *MockProducer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockProducer) SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, 0, m.err
	}
	m.sentMessages = append(m.sentMessages, msg)
	return 0, int64(len(m.sentMessages) - 1), nil
}

func (m *MockProducer) SendMessages(msgs []*sarama.ProducerMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sentMessages = append(m.sentMessages, msgs...)
	return nil
}

func (m *MockProducer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return 0
}

func (m *MockProducer) BeginTxn() error {
	return nil
}

func (m *MockProducer) CommitTxn() error {
	return nil
}

func (m *MockProducer) AbortTxn() error {
	return nil
}

func (m *MockProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (m *MockProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (m *MockProducer) IsTransactional() bool {
	return false
}

var _ sarama.SyncProducer = (*MockProducer)(nil)

// NewMockQueueMessageSender wraps producer in a QueueMessageSender.
func NewMockQueueMessageSender(producer sarama.SyncProducer, topic string) *QueueMessageSender {
	if topic == "" {
		topic = DefaultTopic
	}
	return &QueueMessageSender{producer: producer, topic: topic}
}
