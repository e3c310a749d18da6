package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fablecast/fablecast-api/internal/events"
)

// sseWriter serializes named events onto one open SSE connection. Each
// frame carries the bus sequence number as its SSE id so a client can
// reconnect with from_seq set to the last id it saw.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for event streaming. It fails if
// the underlying writer cannot flush, since buffered SSE is useless.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

// send writes one SSE frame. A negative id omits the id line, used for
// frames synthesized outside the bus sequence.
func (s *sseWriter) send(id int64, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	if id >= 0 {
		if _, err := fmt.Fprintf(s.w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Wire payload shapes. Episode numbering on the wire matches the stage
// index: stage 0 is the outline, episodes count from 1.
type taskIDPayload struct {
	TaskID string `json:"task_id"`
}

type messagePayload struct {
	Message string `json:"message"`
}

type progressPayload struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

type initialContentPayload struct {
	Content string `json:"content"`
}

type episodeChunkPayload struct {
	Episode    int    `json:"episode"`
	Content    string `json:"content"`
	IsComplete bool   `json:"is_complete"`
}

type episodeContentPayload struct {
	Episode int    `json:"episode"`
	Content string `json:"content"`
}

type emptyPayload struct{}

// wireEvent translates one bus event into its wire-level name and
// payload. The second return is false for events with no wire
// representation: outline chunks are buffered server-side and surface
// as the single initial_content frame when the outline stage completes.
func wireEvent(ev events.Event) (string, interface{}, bool) {
	switch ev.Type {
	case events.TypeTaskCreated:
		return "task_id", taskIDPayload{TaskID: ev.TaskID.String()}, true

	case events.TypeStatusChanged:
		return "status", messagePayload{Message: ev.Message}, true

	case events.TypeProgress:
		return "progress", progressPayload{Current: ev.Current, Total: ev.Total}, true

	case events.TypeStageStarted:
		if ev.Stage == 0 {
			return "status", messagePayload{Message: "generating cast table and episode directory"}, true
		}
		return "status", messagePayload{Message: fmt.Sprintf("generating episode %d", ev.Stage)}, true

	case events.TypeContentChunk:
		if ev.Stage == 0 {
			return "", nil, false
		}
		return "episode_content_chunk", episodeChunkPayload{
			Episode:    ev.Stage,
			Content:    ev.Text,
			IsComplete: ev.IsFinal,
		}, true

	case events.TypeStageCompleted:
		if ev.Stage == 0 {
			return "initial_content", initialContentPayload{Content: ev.Text}, true
		}
		return "episode_content", episodeContentPayload{
			Episode: ev.Stage,
			Content: ev.Text,
		}, true

	case events.TypeCompleted:
		return "complete", emptyPayload{}, true

	case events.TypeFailed:
		return "error", messagePayload{Message: ev.Reason}, true

	case events.TypeCancelled:
		return "cancelled", messagePayload{Message: "generation cancelled"}, true

	default:
		return "", nil, false
	}
}
