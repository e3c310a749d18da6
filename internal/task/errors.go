package task

import "errors"

// Errors surfaced by the Manager. The API layer maps these onto HTTP
// status codes; nothing below this package inspects them.
var (
	// ErrValidation wraps a structural problem with the request.
	// No task or checkpoint is created when it is returned.
	ErrValidation = errors.New("invalid generation request")

	// ErrNotFound is returned for an unknown task id or client key.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidState is returned when an operation is not legal for the
	// task's current status, e.g. resuming a completed task.
	ErrInvalidState = errors.New("operation not valid for current task state")
)
