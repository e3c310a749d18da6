package api

import (
	"errors"
	"net/http"

	"github.com/fablecast/fablecast-api/internal/checkpoint"
	"github.com/fablecast/fablecast-api/internal/generation"
	"github.com/fablecast/fablecast-api/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes so
// internal error types never leak to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, task.ErrValidation):
		return http.StatusBadRequest

	case errors.Is(err, task.ErrNotFound),
		errors.Is(err, checkpoint.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, task.ErrInvalidState):
		return http.StatusConflict

	case errors.Is(err, generation.ErrInvalidConfig):
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-facing message for the
// given error. Raw error strings are never exposed.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, task.ErrValidation):
		return "Invalid generation request"

	case errors.Is(err, task.ErrNotFound),
		errors.Is(err, checkpoint.ErrNotFound):
		return "Task not found"

	case errors.Is(err, task.ErrInvalidState):
		return "Operation not allowed in the task's current state"

	default:
		return "An unexpected error occurred"
	}
}
