package messaging

import (
	"context"
	"sync"
)

// MockMessageSender records sent messages in memory. It is the default sender
// when no broker is configured and is used by tests.
type MockMessageSender struct {
	mu       sync.Mutex
	messages []*MatchMessage
	err      error
}

// NewMockMessageSender creates a new MockMessageSender.
func NewMockMessageSender() *MockMessageSender {
	return &MockMessageSender{}
}

// FailWith makes every following send return err.
func (m *MockMessageSender) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SendMatchMessage records msg.
func (m *MockMessageSender) SendMatchMessage(_ context.Context, msg *MatchMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MockMessageSender) Messages() []*MatchMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MatchMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// Close does nothing.
func (m *MockMessageSender) Close() error {
	return nil
}

// Ensure MockMessageSender implements MessageSender
var _ MessageSender = (*MockMessageSender)(nil)
