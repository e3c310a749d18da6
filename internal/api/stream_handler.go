package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fablecast/fablecast-api/internal/api/shared"
	"github.com/fablecast/fablecast-api/internal/checkpoint"
	"github.com/fablecast/fablecast-api/internal/events"
	"github.com/fablecast/fablecast-api/internal/platform/logger"
	"github.com/fablecast/fablecast-api/internal/task"
)

// StreamHandler serves the SSE endpoints: starting a generation and
// streaming it, re-attaching to a running one, and resuming a failed
// one. Each open connection is one independent bus subscription.
type StreamHandler struct {
	manager *task.Manager
	bus     *events.Bus
	logger  *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(manager *task.Manager, bus *events.Bus, log *slog.Logger) *StreamHandler {
	if log == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for StreamHandler")
	}
	return &StreamHandler{
		manager: manager,
		bus:     bus,
		logger:  log.With(slog.String("component", "stream_handler")),
	}
}

// GenerateScript handles POST /stream/generate-script: it validates the
// request, creates and starts the task, and streams its events until the
// terminal one. The first frame carries the task id so the client can
// re-attach or cancel.
func (h *StreamHandler) GenerateScript(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req GenerateScriptRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	taskID, err := h.manager.CreateTask(r.Context(), req.toDomain(), req.ClientKey)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	// Subscribe before starting so the stream replays from the first
	// event no matter how fast the pipeline moves.
	ch, err := h.bus.Subscribe(r.Context(), taskID, 0)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to attach event stream", err)
		return
	}

	if err := h.manager.Start(taskID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Info("streaming generation started", slog.String("task_id", taskID.String()))
	h.streamEvents(w, r, ch)
}

// Attach handles GET /stream/attach/{taskID}?from_seq=N: it re-attaches
// an SSE stream to an existing task, replaying every event at or after
// from_seq. A task the bus no longer remembers but whose checkpoint is
// terminal gets its terminal frame replayed from the checkpoint.
func (h *StreamHandler) Attach(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return
	}

	fromSeq := int64(0)
	if raw := r.URL.Query().Get("from_seq"); raw != "" {
		fromSeq, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || fromSeq < 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid from_seq value")
			return
		}
	}

	ch, err := h.bus.Subscribe(r.Context(), taskID, fromSeq)
	if errors.Is(err, events.ErrUnknownTask) {
		h.replayFromCheckpoint(w, r, taskID)
		return
	}
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to attach event stream", err)
		return
	}

	log.Debug("stream re-attached",
		slog.String("task_id", taskID.String()),
		slog.Int64("from_seq", fromSeq))
	h.streamEvents(w, r, ch)
}

// Resume handles POST /tasks/{taskID}/resume: it re-enters a failed or
// interrupted task one stage past its checkpoint and streams the
// resumed run from its first event.
func (h *StreamHandler) Resume(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return
	}

	if err := h.manager.Resume(r.Context(), taskID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	ch, err := h.bus.Subscribe(r.Context(), taskID, 0)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to attach event stream", err)
		return
	}

	log.Info("resumed task streaming", slog.String("task_id", taskID.String()))
	h.streamEvents(w, r, ch)
}

// streamEvents drains the subscription onto the wire until the channel
// closes, which happens after the terminal event or when the client
// disconnects.
func (h *StreamHandler) streamEvents(w http.ResponseWriter, r *http.Request, ch <-chan events.Event) {
	sse, err := newSSEWriter(w)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Streaming not supported", err)
		return
	}

	for ev := range ch {
		name, payload, ok := wireEvent(ev)
		if !ok {
			continue
		}
		if err := sse.send(ev.Seq, name, payload); err != nil {
			// Client went away; the subscription is torn down by the
			// request context.
			h.logger.Debug("stream write failed",
				slog.String("task_id", ev.TaskID.String()),
				slog.String("error", err.Error()))
			return
		}
	}
}

// replayFromCheckpoint serves an attach for a task the bus has no log
// for, which happens after a process restart or once the retention
// window dropped the log. A terminal checkpoint yields its terminal
// frame; a non-terminal one means the task needs an explicit resume
// before it can stream again.
func (h *StreamHandler) replayFromCheckpoint(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	cp, err := h.manager.Checkpoint(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if !cp.Status.IsTerminal() {
		shared.RespondWithError(w, r, http.StatusConflict,
			"Task is not streaming; resume it to re-attach")
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Streaming not supported", err)
		return
	}

	if err := sse.send(-1, "task_id", taskIDPayload{TaskID: taskID.String()}); err != nil {
		return
	}

	switch cp.Status {
	case checkpoint.StatusCompleted:
		_ = sse.send(-1, "complete", emptyPayload{})
	case checkpoint.StatusFailed:
		_ = sse.send(-1, "error", messagePayload{Message: cp.FailReason})
	case checkpoint.StatusCancelled:
		_ = sse.send(-1, "cancelled", messagePayload{Message: "generation cancelled"})
	}
}
