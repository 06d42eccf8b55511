package amqp

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/screenshot-worker/internal/config"
	"github.com/aliskhannn/screenshot-worker/internal/model"
)

type published struct {
	key string
	msg amqp.Publishing
}

type fakeChannel struct {
	deliveries []amqp.Delivery
	acked      []uint64
	published  []published
	closed     bool
}

func (f *fakeChannel) Get(string, bool) (amqp.Delivery, bool, error) {
	if len(f.deliveries) == 0 {
		return amqp.Delivery{}, false, nil
	}

	d := f.deliveries[0]
	f.deliveries = f.deliveries[1:]
	return d, true, nil
}

func (f *fakeChannel) Ack(tag uint64, _ bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.published = append(f.published, published{key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func newQueue(ch *fakeChannel) *Queue {
	return &Queue{ch: ch, cfg: &config.AMQP{JobsQueue: "jobs", ResultsQueue: "results"}}
}

func TestQueue_LeaseAndAck(t *testing.T) {
	ch := &fakeChannel{deliveries: []amqp.Delivery{{DeliveryTag: 7, Body: []byte(`{"id":"1"}`)}}}
	q := newQueue(ch)

	l, err := q.Lease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`, string(l.Body))

	require.NoError(t, q.Ack(context.Background(), l))
	assert.Equal(t, []uint64{7}, ch.acked)

	_, err = q.Lease(context.Background())
	assert.ErrorIs(t, err, model.ErrNoMessage)
}

func TestQueue_RequeueAndPublish(t *testing.T) {
	ch := &fakeChannel{}
	q := newQueue(ch)

	job := model.Job{ID: "5", URL: "https://example.com", Breakpoint: 640}

	require.NoError(t, q.Requeue(context.Background(), job.NextAttempt()))
	require.NoError(t, q.Publish(context.Background(), model.JobResult{Job: job}))

	require.Len(t, ch.published, 2)
	assert.Equal(t, "jobs", ch.published[0].key)
	assert.Equal(t, "5", ch.published[0].msg.MessageId)
	assert.Equal(t, amqp.Persistent, ch.published[0].msg.DeliveryMode)
	assert.Contains(t, string(ch.published[0].msg.Body), `"attempts":1`)
	assert.Equal(t, "results", ch.published[1].key)
	assert.Contains(t, string(ch.published[1].msg.Body), `"status":false`)

	require.NoError(t, q.Close())
	assert.True(t, ch.closed)
}
