package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/screenshot-worker/internal/config"
	"github.com/aliskhannn/screenshot-worker/internal/model"
	"github.com/aliskhannn/screenshot-worker/internal/queue"
)

// channel is the subset of *amqp.Channel the queue uses.
type channel interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Ack(tag uint64, multiple bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Queue leases jobs from a RabbitMQ queue. An unacknowledged delivery is
// returned to the queue when the connection closes.
type Queue struct {
	conn *amqp.Connection
	ch   channel
	cfg  *config.AMQP
}

// New connects to the broker and declares the jobs and results queues.
func New(cfg *config.AMQP) (*Queue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// One unacknowledged job per worker.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	for _, name := range []string{cfg.JobsQueue, cfg.ResultsQueue} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}

	return &Queue{conn: conn, ch: ch, cfg: cfg}, nil
}

// Lease gets a single message without auto-ack. It returns
// model.ErrNoMessage when the queue is empty.
func (q *Queue) Lease(_ context.Context) (*queue.Lease, error) {
	d, ok, err := q.ch.Get(q.cfg.JobsQueue, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if !ok {
		return nil, model.ErrNoMessage
	}

	zlog.Logger.Info().
		Str("message_id", d.MessageId).
		Uint64("delivery_tag", d.DeliveryTag).
		Msg("job leased")

	return &queue.Lease{Body: d.Body, Handle: d.DeliveryTag}, nil
}

// Ack acknowledges the leased delivery.
func (q *Queue) Ack(_ context.Context, l *queue.Lease) error {
	tag, ok := l.Handle.(uint64)
	if !ok {
		return fmt.Errorf("unexpected lease handle %T", l.Handle)
	}

	if err := q.ch.Ack(tag, false); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}

	return nil
}

// Requeue publishes the job to the jobs queue as a new message.
func (q *Queue) Requeue(ctx context.Context, job model.Job) error {
	return q.publish(ctx, q.cfg.JobsQueue, job.ID, job)
}

// Publish publishes the result to the results queue.
func (q *Queue) Publish(ctx context.Context, res model.JobResult) error {
	return q.publish(ctx, q.cfg.ResultsQueue, res.Job.ID, res)
}

func (q *Queue) publish(ctx context.Context, name, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = q.ch.PublishWithContext(
		ctx,
		"",    // default exchange
		name,  // routing key (queue name)
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    id,
		})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", name, err)
	}

	return nil
}

// Close closes the channel and the connection.
func (q *Queue) Close() error {
	var errs []error
	if q.ch != nil {
		errs = append(errs, q.ch.Close())
	}
	if q.conn != nil {
		errs = append(errs, q.conn.Close())
	}

	return errors.Join(errs...)
}
