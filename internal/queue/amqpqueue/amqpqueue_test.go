package amqpqueue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	declared  []string
	published []string
	delays    []time.Duration
	ch        chan amqp.Delivery
	waiting   []amqp.Delivery
}

func (f *fakeBroker) DeclareQueue(name string) error {
	f.declared = append(f.declared, name)
	return nil
}

func (f *fakeBroker) PublishDelayed(_ context.Context, queue string, _ []byte, delay time.Duration) error {
	f.published = append(f.published, queue)
	f.delays = append(f.delays, delay)
	return nil
}

func (f *fakeBroker) Consume(string, string, int) (<-chan amqp.Delivery, error) {
	return f.ch, nil
}

func (f *fakeBroker) Purge(string) (int, error) { return 3, nil }
func (f *fakeBroker) Depth(string) (int, error) { return 7, nil }

func (f *fakeBroker) Get(string) (amqp.Delivery, bool, error) {
	if len(f.waiting) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := f.waiting[0]
	f.waiting = f.waiting[1:]
	return d, true, nil
}

type recordingAcker struct {
	acked   []uint64
	nacked  []uint64
	requeue []bool
}

func (r *recordingAcker) Ack(tag uint64, _ bool) error {
	r.acked = append(r.acked, tag)
	return nil
}

func (r *recordingAcker) Nack(tag uint64, _ bool, requeue bool) error {
	r.nacked = append(r.nacked, tag)
	r.requeue = append(r.requeue, requeue)
	return nil
}

func (r *recordingAcker) Reject(tag uint64, requeue bool) error {
	return r.Nack(tag, false, requeue)
}

func TestBackend_ConsumeConvertsDeliveries(t *testing.T) {
	broker := &fakeBroker{ch: make(chan amqp.Delivery, 1)}
	acker := &recordingAcker{}
	b := New(broker, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := b.Consume(ctx, "image.upload", "tag", 20)
	require.NoError(t, err)

	broker.ch <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 42, Body: []byte("job"), Redelivered: true}

	select {
	case d := <-out:
		assert.Equal(t, "job", string(d.Body))
		assert.True(t, d.Redelivered)
		require.NoError(t, d.Nack(true))
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}

	assert.Equal(t, []uint64{42}, acker.nacked)
	assert.Equal(t, []bool{true}, acker.requeue)
}

func TestBackend_DelegatesToBroker(t *testing.T) {
	broker := &fakeBroker{}
	b := New(broker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	require.NoError(t, b.DeclareQueues(ctx, []string{"image.upload", "image-processing"}))
	require.NoError(t, b.Publish(ctx, "image.upload", []byte("x"), 30*time.Second))

	purged, err := b.Purge(ctx, "image.upload")
	require.NoError(t, err)
	depth, err := b.Depth(ctx, "image.upload")
	require.NoError(t, err)

	assert.Equal(t, []string{"image.upload", "image-processing"}, broker.declared)
	assert.Equal(t, []time.Duration{30 * time.Second}, broker.delays)
	assert.Equal(t, 3, purged)
	assert.Equal(t, 7, depth)
}

func TestBackend_GetConvertsDelivery(t *testing.T) {
	acker := &recordingAcker{}
	broker := &fakeBroker{waiting: []amqp.Delivery{{Acknowledger: acker, DeliveryTag: 7, Body: []byte("job")}}}
	b := New(broker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	d, ok, err := b.Get(ctx, "image.upload")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job", string(d.Body))
	require.NoError(t, d.Ack())
	assert.Equal(t, []uint64{7}, acker.acked)

	_, ok, err = b.Get(ctx, "image.upload")
	require.NoError(t, err)
	assert.False(t, ok)
}
