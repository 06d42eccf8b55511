package screenshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/screenshot-worker/internal/config"
	"github.com/aliskhannn/screenshot-worker/internal/model"
	"github.com/aliskhannn/screenshot-worker/internal/queue"
)

// Process exit codes of the worker binary.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitConfig = 2
)

// source defines the interface for leasing and acknowledging job messages.
type source interface {
	Lease(ctx context.Context) (*queue.Lease, error)
	Ack(ctx context.Context, l *queue.Lease) error
}

// runner defines the interface for executing a job and delivering its outcome.
type runner interface {
	Run(ctx context.Context, job model.Job) (model.JobResult, error)
}

// ledger defines the interface for detecting jobs that were already delivered.
type ledger interface {
	Delivered(ctx context.Context, job model.Job) (bool, error)
}

// Service handles a single job: lease, run, deliver, acknowledge.
type Service struct {
	source     source
	runner     runner
	ledger     ledger
	local      bool
	outputPath string
}

// NewService creates a new Service.
//   - src: the job queue.
//   - r: runs the job and delivers its result.
//   - l: the delivery ledger.
//   - local: forces local artifact output for the leased job.
//   - outputPath: file the result is written to; empty to skip.
func NewService(src source, r runner, l ledger, local bool, outputPath string) *Service {
	return &Service{
		source:     src,
		runner:     r,
		ledger:     l,
		local:      local,
		outputPath: outputPath,
	}
}

// Process leases one job and runs it to a delivered result.
//
// It returns model.ErrNoMessage when the queue is empty and an error
// matching model.ErrRequeued when the job was resubmitted. The leased
// message is acknowledged once its result is delivered or a new attempt
// is queued; on any other error it is left to expire and be redelivered.
func (s *Service) Process(ctx context.Context) (model.JobResult, error) {
	// Lease a job message from the queue.
	l, err := s.source.Lease(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNoMessage) {
			return model.JobResult{}, err
		}
		return model.JobResult{}, fmt.Errorf("lease job: %w", err)
	}

	// Decode the job. A body that cannot be decoded never will be.
	job, err := model.DecodeJob(l.Body)
	if err != nil {
		if ackErr := s.ack(ctx, l); ackErr != nil {
			return model.JobResult{}, errors.Join(err, ackErr)
		}
		return model.JobResult{}, err
	}

	if s.local {
		job = job.WithLocal(true)
	}

	// Skip a job whose result is already out.
	if s.ledger != nil {
		done, err := s.ledger.Delivered(ctx, job)
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to check delivery ledger")
		}
		if done {
			zlog.Logger.Info().Str("job_id", job.ID).Msg("job already delivered, dropping duplicate")
			if err := s.ack(ctx, l); err != nil {
				return model.JobResult{}, err
			}
			return model.JobResult{}, nil
		}
	}

	// Run the job and deliver the outcome.
	res, err := s.runner.Run(ctx, job)
	if err != nil {
		if !errors.Is(err, model.ErrRequeued) {
			return model.JobResult{}, fmt.Errorf("run job: %w", err)
		}

		// The next attempt is queued as a new message.
		if ackErr := s.ack(ctx, l); ackErr != nil {
			return model.JobResult{}, errors.Join(err, ackErr)
		}
		return model.JobResult{}, err
	}

	if err := s.ack(ctx, l); err != nil {
		return res, err
	}

	if err := s.writeOutput(res); err != nil {
		return res, err
	}

	// A job without url or breakpoint is a configuration error even
	// though its error image was delivered.
	if err := job.Validate(); err != nil {
		return res, err
	}

	return res, nil
}

func (s *Service) ack(ctx context.Context, l *queue.Lease) error {
	if err := s.source.Ack(ctx, l); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to ack job")
		return fmt.Errorf("ack job: %w", err)
	}

	return nil
}

// writeOutput writes the result to the output file. Local jobs write the
// paths of their artifacts.
func (s *Service) writeOutput(res model.JobResult) error {
	if s.outputPath == "" {
		return nil
	}

	var v any = res
	if res.Item.Local != nil {
		v = res.Item.Local
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	if err := os.WriteFile(s.outputPath, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	return nil
}

// ExitCode maps the error returned by Process to the process exit code.
// A requeued failure exits cleanly; a requeued timeout does not, so the
// process supervisor reclaims the abandoned browser.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, model.ErrNoMessage):
		return ExitOK
	case errors.Is(err, model.ErrInvalidJob), errors.Is(err, config.ErrInvalidConfig):
		return ExitConfig
	case errors.Is(err, model.ErrRequeued):
		if errors.Is(err, model.ErrTimeout) {
			return ExitError
		}
		return ExitOK
	default:
		return ExitError
	}
}
