package queue

import (
	"context"
	"errors"
)

// ErrNoMessage reports that no message was available. DirConsumer
// does not return it: when ctx ends before a message arrives, its
// Receive returns ctx.Err().
var ErrNoMessage = errors.New("queue: no message available")

// Consumer is the capability set the pipeline needs from a work queue.
// It deliberately says nothing about delivery semantics beyond
// at-least-once: Nack must make the message visible again, and a
// consumer that crashes after Receive but before Ack or Nack must
// eventually redeliver it.
type Consumer interface {
	// Receive blocks until a message is available or ctx is done.
	Receive(ctx context.Context) (*Message, error)

	// Ack permanently removes msg from the queue. The pipeline calls
	// this only after a container holding msg's file has been both
	// uploaded to the remote blob service and indexed in the catalog.
	Ack(ctx context.Context, msg *Message) error

	// Nack returns msg to the queue for redelivery.
	Nack(ctx context.Context, msg *Message) error
}
