package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/screenshot-worker/internal/config"
	"github.com/aliskhannn/screenshot-worker/internal/model"
	"github.com/aliskhannn/screenshot-worker/internal/queue"
)

// Queue leases jobs from the jobs topic and writes requeued jobs and
// results back through Kafka producers. A message counts as leased until
// its offset is committed.
type Queue struct {
	consumer *wbfkafka.Consumer
	jobs     *wbfkafka.Producer
	results  *wbfkafka.Producer
	cfg      *config.Kafka
	strategy retry.Strategy
}

// New creates a new Queue.
// - cfg: Kafka configuration struct
// - s: retry strategy for fetching, committing and sending
func New(cfg *config.Kafka, s retry.Strategy) *Queue {
	return &Queue{
		consumer: wbfkafka.NewConsumer(cfg.Brokers, cfg.JobsTopic, cfg.GroupID),
		jobs:     wbfkafka.NewProducer(cfg.Brokers, cfg.JobsTopic),
		results:  wbfkafka.NewProducer(cfg.Brokers, cfg.ResultsTopic),
		cfg:      cfg,
		strategy: s,
	}
}

// Lease fetches the next job message with retries.
func (q *Queue) Lease(ctx context.Context) (*queue.Lease, error) {
	zlog.Logger.Info().
		Str("topic", q.cfg.JobsTopic).
		Str("group_id", q.cfg.GroupID).
		Msg("waiting for job")

	var msg kafka.Message
	err := retry.Do(func() error {
		var fetchErr error
		msg, fetchErr = q.consumer.Fetch(ctx)
		return fetchErr
	}, q.strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	zlog.Logger.Info().
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("job leased")

	return &queue.Lease{Body: msg.Value, Handle: msg}, nil
}

// Ack commits the offset of the leased message.
func (q *Queue) Ack(ctx context.Context, l *queue.Lease) error {
	msg, ok := l.Handle.(kafka.Message)
	if !ok {
		return fmt.Errorf("unexpected lease handle %T", l.Handle)
	}

	err := retry.Do(func() error {
		return q.consumer.Commit(ctx, msg)
	}, q.strategy)
	if err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}

	return nil
}

// Requeue sends the job back to the jobs topic. The job ID is used as
// the message key so every attempt of a job lands on the same partition.
func (q *Queue) Requeue(ctx context.Context, job model.Job) error {
	return q.send(ctx, q.jobs, job.ID, job)
}

// Publish sends the result to the results topic.
func (q *Queue) Publish(ctx context.Context, res model.JobResult) error {
	return q.send(ctx, q.results, res.Job.ID, res)
}

func (q *Queue) send(ctx context.Context, p *wbfkafka.Producer, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.SendWithRetry(ctx, q.strategy, []byte(key), data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// Close closes the consumer and both producers.
func (q *Queue) Close() error {
	return errors.Join(q.consumer.Close(), q.jobs.Close(), q.results.Close())
}
