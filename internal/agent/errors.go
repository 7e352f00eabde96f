package agent

import "errors"

// Sentinel errors returned by orchestrator operations.
var (
	ErrQueueFull          = errors.New("task queue is full")
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskNotCancellable = errors.New("task is not cancellable")
	ErrScheduleNotFound   = errors.New("schedule not found")
	ErrNotRunning         = errors.New("orchestrator is not running")
	ErrAlreadyRunning     = errors.New("orchestrator is already running")
)

// FatalError wraps a job error that must not be retried.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal marks err as non-retryable. Workers fail the task immediately
// instead of consuming retry attempts.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
