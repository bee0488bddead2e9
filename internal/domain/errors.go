package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJob is returned when a job with the same idempotency key already exists
	ErrDuplicateJob = errors.New("job with idempotency key already exists")

	// ErrResultNotFound is returned when a completed job has no materialized result yet
	ErrResultNotFound = errors.New("result not found")

	// ErrResultFetch marks a failed read of an upstream result after the upstream
	// job itself succeeded. Callers must not convert it into a job failure; the
	// job stays processing so a later poll or recovery sweep can retry.
	ErrResultFetch = errors.New("upstream result fetch failed")
)

// RetryableError wraps transient errors that should leave the job untouched
// for the next poll cycle
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
