package pipeline

import (
	"context"
	"time"
)

// Delivery is one message handed to a consumer. Exactly one of Ack or Nack
// must be called.
type Delivery struct {
	Body        []byte
	Redelivered bool
	Ack         func() error
	Nack        func(requeue bool) error
}

// Backend is the durable queue the pipeline runs on
type Backend interface {
	// DeclareQueues creates the named queues if they do not exist
	DeclareQueues(ctx context.Context, queues []string) error
	// Publish enqueues body on queue, visible after delay
	Publish(ctx context.Context, queue string, body []byte, delay time.Duration) error
	// Consume streams deliveries from queue until ctx is done
	Consume(ctx context.Context, queue, consumerTag string, prefetch int) (<-chan Delivery, error)
	// Purge drops every waiting message on queue
	Purge(ctx context.Context, queue string) (int, error)
	// Depth returns the number of waiting messages on queue
	Depth(ctx context.Context, queue string) (int, error)
	// Get takes one waiting message without a consumer. ok is false when
	// the queue is empty.
	Get(ctx context.Context, queue string) (d Delivery, ok bool, err error)
}
