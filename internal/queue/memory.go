package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DefaultMaxDeliveries bounds redelivery of rejected messages by Broker.
const DefaultMaxDeliveries = 3

type delivery struct {
	msg      *Message
	attempts int
}

// Broker is an in-process queue with at-least-once delivery. Messages are
// delivered by Drain, one at a time, in send order; rejected messages go back
// to the tail until MaxDeliveries is reached and then to the dead letters.
type Broker struct {
	MaxDeliveries int

	mu         sync.Mutex
	pending    []*delivery
	processors map[string]Processor
	sent       []*Message
	dead       []*Message
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		MaxDeliveries: DefaultMaxDeliveries,
		processors:    make(map[string]Processor),
	}
}

// Subscribe registers the processor of a topic.
func (b *Broker) Subscribe(topic string, p Processor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processors[topic] = p
}

// Send enqueues body as JSON.
func (b *Broker) Send(_ context.Context, topic string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}
	msg := &Message{ID: uuid.NewString(), Topic: topic, Body: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, &delivery{msg: msg})
	b.sent = append(b.sent, msg)
	return nil
}

// Redeliver enqueues an already delivered message again, keeping its ID.
func (b *Broker) Redeliver(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, &delivery{msg: msg})
}

// Drain delivers pending messages, including the ones sent while draining,
// until the queue is empty. It returns the number of deliveries made.
func (b *Broker) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		b.mu.Lock()
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return n, nil
		}
		d := b.pending[0]
		b.pending = b.pending[1:]
		p, ok := b.processors[d.msg.Topic]
		b.mu.Unlock()

		if !ok {
			return n, fmt.Errorf("no processor subscribed to %s", d.msg.Topic)
		}

		n++
		d.attempts++
		if p.Process(ctx, d.msg) == ACK {
			continue
		}

		b.mu.Lock()
		if d.attempts < b.MaxDeliveries {
			b.pending = append(b.pending, d)
		} else {
			b.dead = append(b.dead, d.msg)
		}
		b.mu.Unlock()
	}
}

// Sent returns every message sent to the topic, in send order.
func (b *Broker) Sent(topic string) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Message
	for _, m := range b.sent {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// DeadLetters returns the messages that exhausted their deliveries.
func (b *Broker) DeadLetters() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Message(nil), b.dead...)
}
