package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidJob is returned for a job body without url or breakpoint.
	// It is a configuration error: reported at once, never retried.
	ErrInvalidJob = errors.New("invalid job")

	// ErrTimeout is returned when a job exceeded the execution deadline.
	ErrTimeout = errors.New("timeout error: too big page or too big resources on the page")

	// ErrRequeued is returned when a job was resubmitted for another attempt
	// instead of producing a result.
	ErrRequeued = errors.New("job requeued")

	// ErrNoMessage is returned by a job source that has nothing to lease.
	ErrNoMessage = errors.New("no message available")
)

// StageError records a failure of a single best-effort pipeline stage.
type StageError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// NewStageError creates a StageError for the given stage.
func NewStageError(stage string, err error) StageError {
	return StageError{Stage: stage, Message: err.Error(), Err: err}
}

func (e StageError) Error() string {
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Message)
}

func (e StageError) Unwrap() error {
	return e.Err
}

// RetryableError wraps the cause of a failed attempt that was requeued.
// It matches ErrRequeued with errors.Is.
type RetryableError struct {
	Attempt int // attempt number of the resubmitted job
	Err     error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("requeued as attempt %d: %v", e.Attempt, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrRequeued) hold for any RetryableError.
func (e *RetryableError) Is(target error) bool {
	return target == ErrRequeued
}
