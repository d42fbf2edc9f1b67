package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erain9/orderdesk/pkg/core"
	"github.com/erain9/orderdesk/pkg/messaging"
	"github.com/erain9/orderdesk/pkg/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

type fakeReader struct {
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.queue) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestSendMatchMessage(t *testing.T) {
	w := &fakeWriter{}
	sender := &KafkaMessageSender{writer: w, topic: "matches"}

	msg := &messaging.MatchMessage{
		Symbol:           "BTCUSDT",
		ReferenceOrderID: "ref",
		CounterOrderID:   "counter",
		Price:            "100",
		Qty:              "10",
		Total:            "1000",
		MatchPercentage:  "100.0",
	}
	require.NoError(t, sender.SendMatchMessage(context.Background(), msg))

	written := w.written()
	require.Len(t, written, 1)
	assert.Equal(t, "BTCUSDT", string(written[0].Key))

	var decoded messaging.MatchMessage
	require.NoError(t, json.Unmarshal(written[0].Value, &decoded))
	assert.Equal(t, "ref", decoded.ReferenceOrderID)
	assert.Equal(t, "1000", decoded.Total)

	w.err = errors.New("leader not available")
	assert.Error(t, sender.SendMatchMessage(context.Background(), msg))

	require.NoError(t, sender.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaMessageSenderRequiresTopic(t *testing.T) {
	_, err := NewKafkaMessageSender("localhost:9092", "")
	assert.Error(t, err)
}

func TestChangePublisherRun(t *testing.T) {
	w := &fakeWriter{}
	publisher := &ChangePublisher{writer: w}

	order, err := core.NewOrder(core.OrderParams{
		ID: "s1", OrderID: "o1", Symbol: "ETHUSDT", Side: core.Sell, Type: core.TypeLimit,
		Price: testutil.Dec("2500"), Qty: testutil.Dec("1"),
	})
	require.NoError(t, err)

	changes := make(chan core.Change, 2)
	changes <- core.Change{Kind: core.ChangeCreated, Order: order}
	changes <- core.Change{Kind: core.ChangeReset}
	close(changes)

	publisher.Run(context.Background(), changes, func(core.Change, error) {
		t.Fatal("unexpected publish error")
	})

	written := w.written()
	require.Len(t, written, 2)
	assert.Equal(t, "o1", string(written[0].Key))
	assert.Nil(t, written[1].Key)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(written[0].Value, &decoded))
	assert.Equal(t, "created", decoded["kind"])
}

func TestChangePublisherReportsErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("boom")}
	publisher := &ChangePublisher{writer: w}

	changes := make(chan core.Change, 1)
	changes <- core.Change{Kind: core.ChangeReset}
	close(changes)

	var failed []core.ChangeKind
	publisher.Run(context.Background(), changes, func(c core.Change, err error) {
		failed = append(failed, c.Kind)
	})
	assert.Equal(t, []core.ChangeKind{core.ChangeReset}, failed)
}

func TestEventReaderCommitsPreviousEvent(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte(`{"type":"PRICE_UPDATE"}`)},
		{Offset: 2, Value: []byte(`{"type":"CANCEL_ORDER"}`)},
	}}
	reader := &EventReader{reader: r, logger: zerolog.Nop()}

	payload, err := reader.Next(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"PRICE_UPDATE"}`, string(payload))
	assert.Empty(t, r.committed)

	_, err = reader.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, r.committed)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = reader.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []int64{1, 2}, r.committed)
}

func TestKafkaRoundTrip(t *testing.T) {
	addr := testutil.KafkaAddr()
	testutil.SkipIfKafkaUnavailable(t, addr)

	topic := "orderdesk-test-matches"
	conn, err := kafka.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})

	sender, err := NewKafkaMessageSender(addr, topic)
	require.NoError(t, err)
	defer sender.Close()

	require.NoError(t, sender.SendMatchMessage(context.Background(), &messaging.MatchMessage{
		Symbol: "BTCUSDT", ReferenceOrderID: "round-trip",
	}))

	reader, err := NewEventReader(addr, topic, "orderdesk-test", zerolog.Nop())
	require.NoError(t, err)
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	payload, err := reader.Next(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "BTCUSDT")
}
