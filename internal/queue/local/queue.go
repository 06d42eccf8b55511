package local

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/screenshot-worker/internal/model"
	"github.com/aliskhannn/screenshot-worker/internal/queue"
)

// Queue serves a single job given as a file or as inline JSON. Requeued
// jobs and published results are kept in memory and logged.
type Queue struct {
	mu        sync.Mutex
	body      []byte
	leased    bool
	requeued  []model.Job
	published []model.JobResult
}

// FromFile creates a Queue serving the job stored in path.
func FromFile(path string) (*Queue, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	return FromContent(body), nil
}

// FromContent creates a Queue serving the given job body.
func FromContent(body []byte) *Queue {
	return &Queue{body: body}
}

// Lease returns the job once, then model.ErrNoMessage.
func (q *Queue) Lease(context.Context) (*queue.Lease, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.leased {
		return nil, model.ErrNoMessage
	}
	q.leased = true

	return &queue.Lease{Body: q.body}, nil
}

// Ack is a no-op.
func (q *Queue) Ack(context.Context, *queue.Lease) error {
	return nil
}

// Requeue records the job.
func (q *Queue) Requeue(_ context.Context, job model.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.requeued = append(q.requeued, job)
	zlog.Logger.Info().Str("job", job.Key()).Int("attempts", job.Attempts).Msg("local job requeued")

	return nil
}

// Publish records the result.
func (q *Queue) Publish(_ context.Context, res model.JobResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.published = append(q.published, res)
	zlog.Logger.Info().Str("job", res.Job.Key()).Bool("status", res.Status).Msg("local job result")

	return nil
}

// Requeued returns the jobs requeued so far.
func (q *Queue) Requeued() []model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]model.Job(nil), q.requeued...)
}

// Published returns the results published so far.
func (q *Queue) Published() []model.JobResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]model.JobResult(nil), q.published...)
}

func (q *Queue) Close() error {
	return nil
}
