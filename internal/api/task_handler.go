package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fablecast/fablecast-api/internal/api/shared"
	"github.com/fablecast/fablecast-api/internal/platform/logger"
	"github.com/fablecast/fablecast-api/internal/task"
)

// TaskHandler serves the non-streaming task endpoints: cancellation,
// status polling by client key, and transcript retrieval.
type TaskHandler struct {
	manager *task.Manager
	logger  *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(manager *task.Manager, log *slog.Logger) *TaskHandler {
	if log == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}
	return &TaskHandler{
		manager: manager,
		logger:  log.With(slog.String("component", "task_handler")),
	}
}

// Cancel handles DELETE /stream/cancel/{taskID}. Cancelling an
// already-terminal task acknowledges without error; an unknown task is
// a 404.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return
	}

	if err := h.manager.Cancel(r.Context(), taskID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Info("cancellation acknowledged", slog.String("task_id", taskID.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, CancelResponse{
		TaskID: taskID.String(),
		Status: string(task.StatusCancelled),
	})
}

// StatusByClientKey handles GET /generation-status/{clientKey} for
// polling clients. The response includes the accumulated transcript so a
// client that lost its stream can recover everything generated so far.
func (h *TaskHandler) StatusByClientKey(w http.ResponseWriter, r *http.Request) {
	clientKey := chi.URLParam(r, "clientKey")
	if clientKey == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Missing client key")
		return
	}

	snap, err := h.manager.GetStatusByClientKey(r.Context(), clientKey)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	transcript, err := h.manager.FullTranscript(r.Context(), snap.TaskID)
	if err != nil {
		transcript = ""
	}

	shared.RespondWithJSON(w, r, http.StatusOK, statusResponseFromSnapshot(snap, transcript))
}

// Status handles GET /tasks/{taskID}/status.
func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return
	}

	snap, err := h.manager.GetStatus(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, statusResponseFromSnapshot(snap, ""))
}

// Transcript handles GET /tasks/{taskID}/transcript, returning all
// checkpointed text so far: partial while running, complete once done.
func (h *TaskHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return
	}

	snap, err := h.manager.GetStatus(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	transcript, err := h.manager.FullTranscript(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, TranscriptResponse{
		TaskID:     taskID.String(),
		Status:     string(snap.Status),
		Transcript: transcript,
	})
}
