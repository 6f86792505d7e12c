package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs      []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func newTestConsumer(reader messageReader, dlq *DLQProducer, h Handler) *Consumer {
	c := &Consumer{
		reader:  reader,
		cfg:     ConsumerConfig{Topic: "gally.test.topic", GroupID: "test", MaxRetries: 3, RetryBackoff: time.Millisecond},
		logger:  testLogger(),
		handler: h,
	}
	if dlq != nil {
		c.dlq = dlq
	}
	return c
}

func eventMessage(t *testing.T, ev *Event) kafka.Message {
	t.Helper()
	msg, err := ev.ToMessage("gally.test.topic")
	require.NoError(t, err)
	return msg
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "gally.search.reindex", Topic("search", "reindex"))
	assert.Equal(t, "gally.dlq.gally.search.reindex", DLQTopic("gally.search.reindex"))
}

func TestEvent_ToMessage(t *testing.T) {
	ev, err := NewEvent("gally.search.reindex", "gally-search", map[string]string{"a": "b"})
	require.NoError(t, err)
	ev.About("reindex", "product").WithCorrelationID("corr-1")
	assert.Equal(t, EnvelopeVersion, ev.Version)

	msg, err := ev.ToMessage("topic-a")
	require.NoError(t, err)
	assert.Equal(t, "topic-a", msg.Topic)
	assert.Equal(t, []byte("product"), msg.Key)

	carrier := NewHeaderCarrier(&msg.Headers)
	assert.Equal(t, "gally.search.reindex", carrier.Get(HeaderEventType))
	assert.Equal(t, "gally-search", carrier.Get(HeaderSource))
	assert.Equal(t, "corr-1", carrier.Get(HeaderCorrelationID))

	decoded, err := DecodeEvent(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, decoded.EventID)
	assert.Equal(t, "reindex", decoded.AggregateType)
	var data map[string]string
	require.NoError(t, decoded.DecodeData(&data))
	assert.Equal(t, "b", data["a"])
}

func TestKafkaHeaderCarrier(t *testing.T) {
	headers := []kafka.Header{{Key: "existing", Value: []byte("v1")}}
	carrier := NewHeaderCarrier(&headers)

	assert.Equal(t, "v1", carrier.Get("existing"))
	assert.Equal(t, "", carrier.Get("missing"))

	carrier.Set("existing", "v2")
	carrier.Set("new", "v3")
	assert.Equal(t, "v2", carrier.Get("existing"))
	assert.ElementsMatch(t, []string{"existing", "new"}, carrier.Keys())
	assert.Len(t, headers, 2)
}

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var msg kafka.Message
	InjectTraceContext(ctx, &msg)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", NewHeaderCarrier(&msg.Headers).Get("traceparent"))

	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), &msg))
	assert.Equal(t, traceID, got.TraceID())
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: testLogger()}

	ev, err := NewEvent("gally.search.reindex", "gally-search", map[string]int{"n": 1})
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), "gally.search.reindex", ev))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "gally.search.reindex", w.msgs[0].Topic)

	w.err = errors.New("broker down")
	err = p.Publish(context.Background(), "gally.search.reindex", ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestDLQMessage(t *testing.T) {
	original := kafka.Message{
		Topic:     "gally.search.reindex",
		Partition: 2,
		Offset:    17,
		Key:       []byte("k"),
		Value:     []byte("v"),
		Headers:   []kafka.Header{{Key: "event_type", Value: []byte("x")}},
	}
	msg := dlqMessage(original, errors.New("boom"), "group-a")

	assert.Equal(t, "gally.dlq.gally.search.reindex", msg.Topic)
	assert.Equal(t, original.Value, msg.Value)
	c := NewHeaderCarrier(&msg.Headers)
	assert.Equal(t, "x", c.Get("event_type"))
	assert.Equal(t, "2", c.Get("dlq.original_partition"))
	assert.Equal(t, "17", c.Get("dlq.original_offset"))
	assert.Equal(t, "group-a", c.Get("dlq.consumer_group"))
	assert.Equal(t, "boom", c.Get("dlq.error"))
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	ev := testEvent("evt-1")
	reader := &fakeReader{msgs: []kafka.Message{eventMessage(t, ev)}}
	dlqWriter := &fakeWriter{}
	dlq := &DLQProducer{writer: dlqWriter, logger: testLogger()}

	attempts := 0
	c := newTestConsumer(reader, dlq, func(context.Context, *Event) error {
		attempts++
		return errors.New("rejected")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Start(ctx))

	assert.Equal(t, 3, attempts)
	require.Len(t, dlqWriter.msgs, 1)
	assert.Equal(t, "gally.dlq.gally.test.topic", dlqWriter.msgs[0].Topic)
	assert.Len(t, reader.committed, 1)
	assert.True(t, reader.closed)
}

func TestConsumer_SucceedsAfterRetry(t *testing.T) {
	ev := testEvent("evt-1")
	ev.CorrelationID = "corr-9"
	reader := &fakeReader{msgs: []kafka.Message{eventMessage(t, ev)}}

	attempts := 0
	var seen *Event
	c := newTestConsumer(reader, nil, func(_ context.Context, e *Event) error {
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		seen = e
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Start(ctx))

	assert.Equal(t, 2, attempts)
	require.NotNil(t, seen)
	assert.Equal(t, "evt-1", seen.EventID)
	assert.Len(t, reader.committed, 1)
}

func TestConsumer_BadPayloadIsCommitted(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{{Topic: "gally.test.topic", Value: []byte("not json")}}}
	called := false
	c := newTestConsumer(reader, nil, func(context.Context, *Event) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Start(ctx))

	assert.False(t, called)
	assert.Len(t, reader.committed, 1)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"event_id":"1","event_type":"ecommerce.product.updated","data":{"id":"p-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "ecommerce.product.updated", ev.EventType)
	assert.JSONEq(t, `{"id":"p-1"}`, string(ev.Data))

	_, err = DecodeEvent([]byte(`{"event_type":"ecommerce.product.updated"}`))
	assert.ErrorIs(t, err, errMissingEventID)

	_, err = DecodeEvent([]byte(`[]`))
	assert.Error(t, err)

	var target struct{ ID int }
	assert.Error(t, ev.DecodeData(&target))
}
