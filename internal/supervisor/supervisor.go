package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/screenshot-worker/internal/capture"
	"github.com/aliskhannn/screenshot-worker/internal/model"
	"github.com/aliskhannn/screenshot-worker/internal/pipeline"
)

// Kind classifies how a job execution ended.
type Kind int

const (
	KindSuccess Kind = iota
	KindFailure      // recoverable: navigation or capture failed
	KindTimeout      // the deadline fired first
	KindInvalid      // configuration error, never retried
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindTimeout:
		return "timeout"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of one execution.
type Result struct {
	Kind    Kind
	Capture *capture.Capture // set on success only
	Err     error
	Elapsed time.Duration
}

// Page is a browser tab the supervisor prepares, captures and closes.
type Page interface {
	pipeline.Page
	capture.Page
	Close() error
}

// PageOpener opens a fresh tab for one job.
type PageOpener func(ctx context.Context) (Page, error)

// Deliverer turns a classified outcome into the job's single result.
type Deliverer interface {
	Deliver(ctx context.Context, job model.Job, res Result) (model.JobResult, error)
}

// Supervisor runs one job at a time inside a wall-clock budget.
type Supervisor struct {
	open     PageOpener
	pipeline *pipeline.Pipeline
	capturer *capture.Capturer
	deliver  Deliverer
	timeout  time.Duration
	now      func() time.Time
}

// New creates a new Supervisor.
func New(open PageOpener, p *pipeline.Pipeline, c *capture.Capturer, d Deliverer, timeout time.Duration) *Supervisor {
	return &Supervisor{
		open:     open,
		pipeline: p,
		capturer: c,
		deliver:  d,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Run executes the job and hands the outcome to the deliverer. It returns
// the delivered result, or an error matching model.ErrRequeued when the
// job was resubmitted for another attempt.
func (s *Supervisor) Run(ctx context.Context, job model.Job) (model.JobResult, error) {
	log := zlog.Logger.With().
		Str("job_id", job.ID).
		Str("url", job.URL).
		Int("breakpoint", job.Breakpoint).
		Int("attempts", job.Attempts).
		Logger()

	start := s.now()

	var res Result
	if err := job.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid job")
		res = Result{Kind: KindInvalid, Err: err}
	} else {
		res = s.execute(ctx, job, log)
	}
	res.Elapsed = s.now().Sub(start)

	log.Info().
		Stringer("outcome", res.Kind).
		Dur("elapsed", res.Elapsed).
		Msg("job executed")

	return s.deliver.Deliver(ctx, job, res)
}

// execute races the page preparation and capture against the deadline.
// When the deadline fires first the running attempt is abandoned and its
// page force-closed.
func (s *Supervisor) execute(ctx context.Context, job model.Job, log zerolog.Logger) Result {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	page, err := s.open(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("failed to open page")
		return Result{Kind: KindFailure, Err: fmt.Errorf("open page: %w", err)}
	}

	done := make(chan Result, 1)
	go func() {
		done <- s.attempt(runCtx, page, job, log)
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var res Result
	select {
	case res = <-done:
	case <-timer.C:
		log.Error().Dur("timeout", s.timeout).Msg("job timed out")
		res = Result{Kind: KindTimeout, Err: model.ErrTimeout}
	case <-ctx.Done():
		res = Result{Kind: KindFailure, Err: ctx.Err()}
	}

	cancel()
	closePage(page, log)

	return res
}

// attempt runs the pipeline and the capture on page.
func (s *Supervisor) attempt(ctx context.Context, page Page, job model.Job, log zerolog.Logger) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("job panicked")
			res = Result{Kind: KindFailure, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err := s.pipeline.Prepare(ctx, page, job)
	if err != nil {
		if errors.Is(err, model.ErrInvalidJob) {
			return Result{Kind: KindInvalid, Err: err}
		}
		log.Error().Err(err).Msg("failed to prepare page")
		return Result{Kind: KindFailure, Err: err}
	}

	c, err := s.capturer.Capture(ctx, page, job, out)
	if err != nil {
		log.Error().Err(err).Msg("failed to capture page")
		return Result{Kind: KindFailure, Err: err}
	}

	return Result{Kind: KindSuccess, Capture: c}
}

// closePage closes the tab; a failure is only logged.
func closePage(page Page, log zerolog.Logger) {
	if err := page.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close page")
	}
}
