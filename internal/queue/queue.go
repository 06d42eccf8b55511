package queue

import (
	"context"

	"github.com/aliskhannn/screenshot-worker/internal/model"
)

// Lease is a job message held by this worker until it is acknowledged.
// Until then the transport may hand the message to another worker once
// the lease expires.
type Lease struct {
	Body   []byte
	Handle any // transport receipt: offset, receipt handle or delivery tag
}

// Source is a job queue together with its results channel.
type Source interface {
	// Lease blocks until a job message is available. Sources that can run
	// out of work return model.ErrNoMessage.
	Lease(ctx context.Context) (*Lease, error)
	// Ack removes the leased message for good.
	Ack(ctx context.Context, l *Lease) error
	// Requeue submits job as a new message.
	Requeue(ctx context.Context, job model.Job) error
	// Publish reports a terminal result.
	Publish(ctx context.Context, res model.JobResult) error
	Close() error
}
