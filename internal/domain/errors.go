package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMedia is returned when input is unreadable, corrupt or unsupported
	ErrInvalidMedia = errors.New("invalid media")

	// ErrTooLarge is returned when a submission exceeds a configured bound
	ErrTooLarge = errors.New("payload too large")

	// ErrConflict is returned when an artifact already exists for a task id
	ErrConflict = errors.New("artifact already exists")

	// ErrTimeout is returned when processing exceeded the per-task bound
	ErrTimeout = errors.New("processing timed out")

	// ErrBrokerUnavailable is returned when the queue cannot be reached
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrUnknownTask is returned for ids that were never issued or were already swept
	ErrUnknownTask = errors.New("unknown task")

	// ErrPending is returned when a result is requested before the task finished
	ErrPending = errors.New("task is still pending")

	// ErrAlreadyFetched is returned when a succeeded task's artifact was already consumed
	ErrAlreadyFetched = errors.New("result already fetched")

	// ErrTaskAlreadyClaimed is returned when another worker holds a valid lease
	ErrTaskAlreadyClaimed = errors.New("task already claimed")

	// ErrTaskTerminal is returned when a claim targets a finished task
	ErrTaskTerminal = errors.New("task already in terminal state")

	// ErrLeaseLost is returned when a worker-side transition no longer owns the task
	ErrLeaseLost = errors.New("task lease lost")

	// ErrArtifactNotFound is returned when the result store has no artifact for an id
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Stable error codes recorded on failed tasks
const (
	CodeInvalidMedia      = "invalid_media"
	CodeConflict          = "conflict"
	CodeTimeout           = "timeout"
	CodeBrokerUnavailable = "broker_unavailable"
	CodeProcessingError   = "processing_error"
)

// TaskError is the terminal error recorded on a failed task
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets errors.Is match a TaskError against the sentinel for its code
func (e *TaskError) Is(target error) bool {
	switch e.Code {
	case CodeInvalidMedia:
		return target == ErrInvalidMedia
	case CodeConflict:
		return target == ErrConflict
	case CodeTimeout:
		return target == ErrTimeout
	case CodeBrokerUnavailable:
		return target == ErrBrokerUnavailable
	}
	return false
}

// ErrorCode maps an error onto the stable code stored with a failed task
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMedia):
		return CodeInvalidMedia
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrBrokerUnavailable):
		return CodeBrokerUnavailable
	default:
		return CodeProcessingError
	}
}

// RetryableError wraps transient errors that should trigger a requeue
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
