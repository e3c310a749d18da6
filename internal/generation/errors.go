package generation

import "errors"

// Common errors returned by generator backends.
var (
	// ErrGenerationFailed is returned when a stage fails for any general reason.
	ErrGenerationFailed = errors.New("failed to generate stage content")

	// ErrTransientFailure is returned for temporary errors that may resolve
	// on retry. The pipeline restarts the stage from the beginning.
	ErrTransientFailure = errors.New("transient error during stage generation")

	// ErrContentBlocked is returned when the model blocks the content due
	// to safety filters. Not retryable.
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrEmptyOutput is returned when a stage stream ends without producing
	// usable content. Not retryable; the task is failed.
	ErrEmptyOutput = errors.New("stage produced empty output")

	// ErrInvalidConfig is returned when the generator configuration is invalid.
	ErrInvalidConfig = errors.New("invalid generator configuration")
)
