// Package memqueue is an in-process queue backend for local runs and tests.
// Messages do not survive a restart.
package memqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/pipeline"
)

// DefaultCapacity is the per-queue buffer size
const DefaultCapacity = 10000

// ErrQueueFull is returned when a queue buffer is exhausted
var ErrQueueFull = errors.New("queue is full")

type message struct {
	body        []byte
	redelivered bool
}

type queue struct {
	ch chan message
}

// Queue implements pipeline.Backend in memory
type Queue struct {
	capacity int
	logger   *slog.Logger

	mu     sync.Mutex
	queues map[string]*queue
	timers map[*time.Timer]struct{}
	closed bool
}

// New creates an in-memory backend. A non-positive capacity uses the default.
func New(capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		logger:   logger,
		queues:   make(map[string]*queue),
		timers:   make(map[*time.Timer]struct{}),
	}
}

var _ pipeline.Backend = (*Queue)(nil)

// DeclareQueues creates the named queues
func (q *Queue) DeclareQueues(_ context.Context, names []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, name := range names {
		q.getLocked(name)
	}
	return nil
}

// Publish enqueues body, immediately or after delay
func (q *Queue) Publish(_ context.Context, name string, body []byte, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.New("queue backend closed")
	}

	msg := message{body: append([]byte(nil), body...)}
	target := q.getLocked(name)

	if delay <= 0 {
		return push(target, msg, name)
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		if err := push(target, msg, name); err != nil {
			q.logger.Error("Failed to deliver delayed message",
				slog.String("queue", name),
				slog.Any("error", err),
			)
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

// Consume streams deliveries until ctx is done. Unacked deliveries count
// against prefetch.
func (q *Queue) Consume(ctx context.Context, name, consumerTag string, prefetch int) (<-chan pipeline.Delivery, error) {
	if prefetch <= 0 {
		prefetch = 1
	}

	q.mu.Lock()
	target := q.getLocked(name)
	q.mu.Unlock()

	out := make(chan pipeline.Delivery)
	slots := make(chan struct{}, prefetch)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case slots <- struct{}{}:
			}

			var msg message
			select {
			case <-ctx.Done():
				return
			case msg = <-target.ch:
			}

			d := delivery(target, msg, name, func() { <-slots })

			select {
			case out <- d:
			case <-ctx.Done():
				_ = d.Nack(true)
				return
			}
		}
	}()

	q.logger.Debug("Started consuming in-memory queue",
		slog.String("queue", name),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch", prefetch),
	)
	return out, nil
}

// Purge drops every waiting message on the queue
func (q *Queue) Purge(_ context.Context, name string) (int, error) {
	q.mu.Lock()
	target := q.getLocked(name)
	q.mu.Unlock()

	n := 0
	for {
		select {
		case <-target.ch:
			n++
		default:
			return n, nil
		}
	}
}

// Depth returns the number of waiting messages
func (q *Queue) Depth(_ context.Context, name string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.getLocked(name).ch), nil
}

// Get takes one waiting message without starting a consumer
func (q *Queue) Get(_ context.Context, name string) (pipeline.Delivery, bool, error) {
	q.mu.Lock()
	target := q.getLocked(name)
	q.mu.Unlock()

	select {
	case msg := <-target.ch:
		return delivery(target, msg, name, func() {}), true, nil
	default:
		return pipeline.Delivery{}, false, nil
	}
}

// Close stops delayed deliveries
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	return nil
}

func (q *Queue) getLocked(name string) *queue {
	target, ok := q.queues[name]
	if !ok {
		target = &queue{ch: make(chan message, q.capacity)}
		q.queues[name] = target
	}
	return target
}

// delivery wraps msg so that it is settled exactly once. release runs on
// settlement; a requeued message is marked redelivered.
func delivery(target *queue, msg message, name string, release func()) pipeline.Delivery {
	var once sync.Once
	settle := func(requeue bool) error {
		var err error
		once.Do(func() {
			release()
			if requeue {
				err = push(target, message{body: msg.body, redelivered: true}, name)
			}
		})
		return err
	}

	return pipeline.Delivery{
		Body:        msg.body,
		Redelivered: msg.redelivered,
		Ack:         func() error { return settle(false) },
		Nack:        settle,
	}
}

func push(target *queue, msg message, name string) error {
	select {
	case target.ch <- msg:
		return nil
	default:
		return fmt.Errorf("failed to publish to %s: %w", name, ErrQueueFull)
	}
}
