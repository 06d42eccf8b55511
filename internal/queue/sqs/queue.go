package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/screenshot-worker/internal/config"
	"github.com/aliskhannn/screenshot-worker/internal/model"
	"github.com/aliskhannn/screenshot-worker/internal/queue"
)

// api is the subset of the SQS client the queue uses.
type api interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Queue leases jobs from an SQS queue. The visibility timeout is the lease:
// a message that is not deleted before it expires is delivered again.
type Queue struct {
	client api
	cfg    *config.SQS
}

// New creates a new Queue using the default AWS credential chain.
func New(ctx context.Context, cfg *config.SQS) (*Queue, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Queue{client: client, cfg: cfg}, nil
}

// Lease receives one message with long polling. It returns
// model.ErrNoMessage when the poll ended empty.
func (q *Queue) Lease(ctx context.Context) (*queue.Lease, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.cfg.JobsQueueURL),
		MaxNumberOfMessages: 1,
		VisibilityTimeout:   seconds(q.cfg.VisibilityTimeout),
		WaitTimeSeconds:     seconds(q.cfg.WaitTime),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}

	if len(out.Messages) == 0 {
		return nil, model.ErrNoMessage
	}

	msg := out.Messages[0]

	zlog.Logger.Info().
		Str("message_id", aws.ToString(msg.MessageId)).
		Msg("job leased")

	return &queue.Lease{Body: []byte(aws.ToString(msg.Body)), Handle: aws.ToString(msg.ReceiptHandle)}, nil
}

// Ack deletes the leased message.
func (q *Queue) Ack(ctx context.Context, l *queue.Lease) error {
	handle, ok := l.Handle.(string)
	if !ok {
		return fmt.Errorf("unexpected lease handle %T", l.Handle)
	}

	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.cfg.JobsQueueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	return nil
}

// Requeue sends the job to the jobs queue as a new message.
func (q *Queue) Requeue(ctx context.Context, job model.Job) error {
	return q.send(ctx, q.cfg.JobsQueueURL, job)
}

// Publish sends the result to the results queue.
func (q *Queue) Publish(ctx context.Context, res model.JobResult) error {
	return q.send(ctx, q.cfg.ResultsQueueURL, res)
}

func (q *Queue) send(ctx context.Context, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// Close is a no-op; the SQS client holds no connection.
func (q *Queue) Close() error {
	return nil
}

func seconds(d time.Duration) int32 {
	return int32(d / time.Second)
}
