package core

import (
	"errors"
	"fmt"
	"time"
)

// Queue and lookup errors
var (
	ErrNoJobAvailable   = errors.New("capture: no job available")
	ErrJobNotOwned      = errors.New("capture: job not owned by this worker")
	ErrDuplicateJob     = errors.New("capture: target already has an outstanding job")
	ErrTargetNotFound   = errors.New("capture: target not found")
	ErrTargetDisabled   = errors.New("capture: target disabled")
	ErrInvalidTarget    = errors.New("capture: invalid target")
	ErrInvalidWorkerID  = errors.New("capture: invalid worker id")
	ErrInvalidCadence   = errors.New("capture: invalid cadence")
	ErrArtifactTooLarge = errors.New("capture: artifact exceeds size limit")
	ErrInvalidKey       = errors.New("capture: invalid storage key segment")
)

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates an error that should be retried after a delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}
