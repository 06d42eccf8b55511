package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/aliskhannn/screenshot-worker/internal/capture"
	"github.com/aliskhannn/screenshot-worker/internal/model"
	"github.com/aliskhannn/screenshot-worker/internal/processor"
	"github.com/aliskhannn/screenshot-worker/internal/supervisor"
)

const (
	timeoutMessage = "Timeout error: too big page or too big resources on the page."

	overloadedMessage = "Diffy was unable to take the screenshot.\n" +
		"Looks like we have overloaded your server. Please try lowering number of workers " +
		"for this environment under Project Settings -> Advanced -> Performance"

	errorPrefix = "Error: "
)

// Storage saves one artifact and returns its URI or path.
type Storage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader, size int64, contentType string) (string, error)
}

// Queue resubmits a job for another attempt.
type Queue interface {
	Requeue(ctx context.Context, job model.Job) error
}

// Publisher reports a terminal result to the coordinator.
type Publisher interface {
	Publish(ctx context.Context, res model.JobResult) error
}

// Ledger remembers which jobs already got their terminal result.
type Ledger interface {
	Delivered(ctx context.Context, jobID string) (bool, error)
	Record(ctx context.Context, res model.JobResult) error
}

// Protocol decides between retry and terminal delivery and reports every
// job's terminal result exactly once.
type Protocol struct {
	maxAttempts int
	proc        *processor.Processor
	remote      Storage
	local       Storage
	queue       Queue
	publisher   Publisher
	ledger      Ledger // optional
	strategy    retry.Strategy
}

// New creates a new Protocol. Jobs flagged local save their artifacts to
// local and are never requeued or published; ledger may be nil.
func New(
	maxAttempts int,
	proc *processor.Processor,
	remote, local Storage,
	q Queue,
	p Publisher,
	l Ledger,
	s retry.Strategy,
) *Protocol {
	return &Protocol{
		maxAttempts: maxAttempts,
		proc:        proc,
		remote:      remote,
		local:       local,
		queue:       q,
		publisher:   p,
		ledger:      l,
		strategy:    s,
	}
}

// Delivered reports whether the job's terminal result was already
// published by an earlier lease of the same message.
func (p *Protocol) Delivered(ctx context.Context, job model.Job) (bool, error) {
	if p.ledger == nil || job.Local || job.ID == "" {
		return false, nil
	}

	done, err := p.ledger.Delivered(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("check ledger: %w", err)
	}

	return done, nil
}

// Deliver turns a classified outcome into the job's result. A recoverable
// failure or timeout with attempts left is requeued as the next attempt and
// reported as a *model.RetryableError; anything else produces a terminal
// result that always carries a displayable image.
func (p *Protocol) Deliver(ctx context.Context, job model.Job, res supervisor.Result) (model.JobResult, error) {
	job = job.WithTimeExecute(int(math.Round(res.Elapsed.Seconds())))

	log := zlog.Logger.With().
		Str("job_id", job.ID).
		Str("url", job.URL).
		Int("breakpoint", job.Breakpoint).
		Int("attempts", job.Attempts).
		Logger()

	switch res.Kind {
	case supervisor.KindSuccess:
		return p.success(ctx, job, res.Capture, log)
	case supervisor.KindInvalid:
		return p.fail(ctx, job, res.Err, log)
	}

	if !job.Local && job.CanRetry(p.maxAttempts) {
		return p.requeue(ctx, job, res.Err, log)
	}

	return p.fail(ctx, job, res.Err, log)
}

func (p *Protocol) requeue(ctx context.Context, job model.Job, cause error, log zerolog.Logger) (model.JobResult, error) {
	next := job.NextAttempt()

	err := retry.Do(func() error {
		return p.queue.Requeue(ctx, next)
	}, p.strategy)
	if err != nil {
		return model.JobResult{}, fmt.Errorf("requeue job: %w", err)
	}

	log.Warn().Err(cause).Int("next_attempt", next.Attempts).Msg("job requeued")

	return model.JobResult{}, &model.RetryableError{Attempt: next.Attempts, Err: cause}
}

func (p *Protocol) success(ctx context.Context, job model.Job, c *capture.Capture, log zerolog.Logger) (model.JobResult, error) {
	if c == nil {
		return model.JobResult{}, errors.New("success without capture")
	}

	key := uuid.NewString()
	item := model.ItemResult{Data: c.Data}

	artifacts := []artifact{
		{key + "." + c.Full.Ext, c.Full.Data, c.Full.ContentType, &item.Full},
		{key + "-thumbnail." + c.Thumbnail.Ext, c.Thumbnail.Data, c.Thumbnail.ContentType, &item.Thumbnail},
		{key + ".html", []byte(c.HTML), "text/html; charset=utf-8", &item.HTML},
		{key + "-console.json", c.Console, "application/json", &item.JSConsole},
	}
	if job.MHTML {
		artifacts = append(artifacts, artifact{key + ".mhtml", []byte(c.MHTML), "multipart/related", &item.MHTML})
	}

	if err := p.save(ctx, job, artifacts); err != nil {
		return model.JobResult{}, err
	}

	if job.Local {
		item.Local = &model.LocalArtifacts{
			Screenshot: item.Full,
			HTML:       item.HTML,
			MHTML:      item.MHTML,
			JSConsole:  item.JSConsole,
		}
	}

	res := model.JobResult{Job: job, Status: true, Item: item}
	if err := p.publish(ctx, res); err != nil {
		return model.JobResult{}, err
	}

	log.Info().Str("full", item.Full).Msg("screenshot delivered")

	return res, nil
}

// fail renders the error artifact and delivers the terminal failure.
func (p *Protocol) fail(ctx context.Context, job model.Job, cause error, log zerolog.Logger) (model.JobResult, error) {
	message := ErrorText(cause)

	img, err := p.proc.ErrorImage(job.Breakpoint, message)
	if err != nil {
		return model.JobResult{}, fmt.Errorf("render error image: %w", err)
	}

	key := uuid.NewString()
	item := model.ItemResult{
		Data:  failureData(job, message),
		Error: &model.ResultError{Message: message},
	}

	artifacts := []artifact{
		{key + "." + img.Full.Ext, img.Full.Data, img.Full.ContentType, &item.Full},
		{key + "-thumbnail." + img.Thumbnail.Ext, img.Thumbnail.Data, img.Thumbnail.ContentType, &item.Thumbnail},
	}
	if err := p.save(ctx, job, artifacts); err != nil {
		return model.JobResult{}, fmt.Errorf("save error image: %w", err)
	}

	if job.Local {
		item.Local = &model.LocalArtifacts{Screenshot: item.Full, Error: item.Error}
	}

	res := model.JobResult{Job: job, Status: false, Item: item, Err: message}
	if err := p.publish(ctx, res); err != nil {
		return model.JobResult{}, err
	}

	log.Error().Err(cause).Str("full", item.Full).Msg("job failed, error image delivered")

	return res, nil
}

type artifact struct {
	name        string
	data        []byte
	contentType string
	dst         *string
}

// save stores the artifacts concurrently, in the local directory for local
// jobs and in the object store otherwise.
func (p *Protocol) save(ctx context.Context, job model.Job, artifacts []artifact) error {
	sink, subdir := p.remote, job.ID
	if job.Local {
		sink = p.local
	}
	if subdir == "" {
		subdir = "jobs"
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range artifacts {
		g.Go(func() error {
			uri, err := sink.Save(gctx, subdir, a.name, bytes.NewReader(a.data), int64(len(a.data)), a.contentType)
			if err != nil {
				return fmt.Errorf("save %s: %w", a.name, err)
			}
			*a.dst = uri
			return nil
		})
	}

	return g.Wait()
}

// publish reports the result to the coordinator and records it in the
// ledger. Local jobs are returned to the caller only.
func (p *Protocol) publish(ctx context.Context, res model.JobResult) error {
	if res.Job.Local {
		return nil
	}

	err := retry.Do(func() error {
		return p.publisher.Publish(ctx, res)
	}, p.strategy)
	if err != nil {
		return fmt.Errorf("publish result: %w", err)
	}

	if p.ledger != nil && res.Job.ID != "" {
		// The result is out; a ledger failure only weakens duplicate detection.
		if err := p.ledger.Record(ctx, res); err != nil {
			zlog.Logger.Error().Err(err).Str("job_id", res.Job.ID).Msg("failed to record delivered result")
		}
	}

	return nil
}

// failureData is the data field of a terminal failure: the failed job
// itself, so the coordinator can tell what was attempted.
func failureData(job model.Job, message string) string {
	body, err := json.Marshal(job)
	if err != nil {
		return message
	}

	return errorPrefix + string(body)
}

// ErrorText is the message shown on the error artifact for cause.
// Socket timeouts of the target site are explained as server overload.
func ErrorText(cause error) string {
	var text string
	switch {
	case cause == nil:
		text = "unknown error"
	case errors.Is(cause, model.ErrTimeout):
		text = timeoutMessage
	case strings.Contains(cause.Error(), "SOCKETTIMEOUT"), strings.Contains(cause.Error(), "SOCKETTIMEDOUT"):
		text = overloadedMessage
	default:
		text = cause.Error()
	}

	return errorPrefix + text
}
