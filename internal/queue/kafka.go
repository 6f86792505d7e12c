package queue

import (
	"context"
	"fmt"

	pkgkafka "github.com/utafrali/gally-search/pkg/kafka"
	"github.com/utafrali/gally-search/pkg/logger"
)

// KafkaProducer sends bodies wrapped in the standard event envelope.
type KafkaProducer struct {
	producer *pkgkafka.Producer
	source   string
}

// NewKafkaProducer creates a Producer over a kafka producer.
func NewKafkaProducer(p *pkgkafka.Producer, source string) *KafkaProducer {
	return &KafkaProducer{producer: p, source: source}
}

// Send publishes body on topic. The topic doubles as event type.
func (k *KafkaProducer) Send(ctx context.Context, topic string, body any) error {
	event, err := pkgkafka.NewEvent(topic, k.source, body)
	if err != nil {
		return fmt.Errorf("build %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	return k.producer.Publish(ctx, topic, event)
}

// KafkaHandler feeds kafka events of a topic to a processor. A REJECT turns
// into ErrRejected so the consumer retries and then dead-letters.
func KafkaHandler(topic string, p Processor) pkgkafka.Handler {
	return func(ctx context.Context, event *pkgkafka.Event) error {
		msg := &Message{ID: event.EventID, Topic: topic, Body: event.Data}
		if p.Process(ctx, msg) == REJECT {
			return fmt.Errorf("%s %s: %w", topic, event.EventID, ErrRejected)
		}
		return nil
	}
}
