// Package amqpqueue runs the pipeline on RabbitMQ
package amqpqueue

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/media-pipeline/internal/pipeline"
	"github.com/cuongbtq/media-pipeline/shared/rabbitmq"
)

// Broker is the subset of the RabbitMQ client the backend needs
type Broker interface {
	DeclareQueue(name string) error
	PublishDelayed(ctx context.Context, queue string, body []byte, delay time.Duration) error
	Consume(queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	Purge(queue string) (int, error)
	Depth(queue string) (int, error)
	Get(queue string) (amqp.Delivery, bool, error)
}

var _ Broker = (*rabbitmq.Client)(nil)

// Backend adapts a RabbitMQ client to pipeline.Backend
type Backend struct {
	broker Broker
	logger *slog.Logger
}

var _ pipeline.Backend = (*Backend)(nil)

// New creates a RabbitMQ-backed pipeline backend
func New(broker Broker, logger *slog.Logger) *Backend {
	return &Backend{broker: broker, logger: logger}
}

// DeclareQueues declares a durable queue per name
func (b *Backend) DeclareQueues(_ context.Context, queues []string) error {
	for _, q := range queues {
		if err := b.broker.DeclareQueue(q); err != nil {
			return err
		}
	}
	return nil
}

// Publish enqueues body, parking it in a delay tier when delay is positive
func (b *Backend) Publish(ctx context.Context, queue string, body []byte, delay time.Duration) error {
	return b.broker.PublishDelayed(ctx, queue, body, delay)
}

// Consume converts AMQP deliveries into pipeline deliveries
func (b *Backend) Consume(ctx context.Context, queue, consumerTag string, prefetch int) (<-chan pipeline.Delivery, error) {
	deliveries, err := b.broker.Consume(queue, consumerTag, prefetch)
	if err != nil {
		return nil, err
	}

	out := make(chan pipeline.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					b.logger.Warn("RabbitMQ delivery channel closed", slog.String("queue", queue))
					return
				}
				pd := convert(d)
				select {
				case out <- pd:
				case <-ctx.Done():
					// return it to the queue so it can be reprocessed
					if err := d.Nack(false, true); err != nil {
						b.logger.Error("Failed to NACK message on shutdown",
							slog.String("queue", queue),
							slog.Any("error", err),
						)
					}
					return
				}
			}
		}
	}()
	return out, nil
}

// Purge drops waiting messages
func (b *Backend) Purge(_ context.Context, queue string) (int, error) {
	return b.broker.Purge(queue)
}

// Depth returns the number of waiting messages
func (b *Backend) Depth(_ context.Context, queue string) (int, error) {
	return b.broker.Depth(queue)
}

// Get takes one waiting message with a basic.get
func (b *Backend) Get(_ context.Context, queue string) (pipeline.Delivery, bool, error) {
	d, ok, err := b.broker.Get(queue)
	if err != nil || !ok {
		return pipeline.Delivery{}, false, err
	}
	return convert(d), true, nil
}

func convert(d amqp.Delivery) pipeline.Delivery {
	return pipeline.Delivery{
		Body:        d.Body,
		Redelivered: d.Redelivered,
		Ack:         func() error { return d.Ack(false) },
		Nack:        func(requeue bool) error { return d.Nack(false, requeue) },
	}
}
