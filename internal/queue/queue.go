// Package queue is the message contract between the reindex components and
// the broker: processors see a Message and answer ACK or REJECT; retry and
// redelivery belong to the broker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Status is the outcome of processing one message.
type Status int

const (
	ACK Status = iota
	REJECT
)

func (s Status) String() string {
	switch s {
	case ACK:
		return "ack"
	case REJECT:
		return "reject"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrRejected is returned to the broker adapter when a processor rejects a
// message, so that the broker redelivers it.
var ErrRejected = errors.New("message rejected")

// Message is one delivery. ID is stable across redeliveries of the same
// message.
type Message struct {
	ID    string
	Topic string
	Body  []byte
}

// Decode unmarshals the JSON body into v.
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("decode %s message %s: %w", m.Topic, m.ID, err)
	}
	return nil
}

// Processor handles messages of one topic.
type Processor interface {
	Process(ctx context.Context, msg *Message) Status
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, msg *Message) Status

func (f ProcessorFunc) Process(ctx context.Context, msg *Message) Status {
	return f(ctx, msg)
}

// Producer sends a JSON encodable body to a topic.
type Producer interface {
	Send(ctx context.Context, topic string, body any) error
}
