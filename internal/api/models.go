package api

import (
	"time"

	"github.com/fablecast/fablecast-api/internal/domain"
	"github.com/fablecast/fablecast-api/internal/task"
)

// GenerateScriptRequest is the body of POST /stream/generate-script.
// Structural validation happens in the domain layer so the limits live
// in one place.
type GenerateScriptRequest struct {
	Genre      string   `json:"genre"`
	Duration   string   `json:"duration"`
	Episodes   int      `json:"episodes"`
	Characters []string `json:"characters"`

	// ClientKey is an optional correlation key for polling clients that
	// cannot hold the SSE connection open.
	ClientKey string `json:"client_key,omitempty"`
}

func (r GenerateScriptRequest) toDomain() domain.ScriptRequest {
	return domain.ScriptRequest{
		Genre:      r.Genre,
		Duration:   r.Duration,
		Episodes:   r.Episodes,
		Characters: r.Characters,
	}
}

// StatusResponse reports a task's progress for polling clients. The
// transcript holds all checkpointed text so far, partial while running.
type StatusResponse struct {
	TaskID       string    `json:"task_id"`
	ClientKey    string    `json:"client_key,omitempty"`
	Status       string    `json:"status"`
	CurrentStage int       `json:"current_stage"`
	Episodes     int       `json:"episodes"`
	Progress     float64   `json:"progress"`
	FailReason   string    `json:"fail_reason,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	Transcript   string    `json:"transcript,omitempty"`
}

func statusResponseFromSnapshot(snap task.Snapshot, transcript string) StatusResponse {
	return StatusResponse{
		TaskID:       snap.TaskID.String(),
		ClientKey:    snap.ClientKey,
		Status:       string(snap.Status),
		CurrentStage: snap.CurrentStage,
		Episodes:     snap.Episodes,
		Progress:     snap.Progress,
		FailReason:   snap.FailReason,
		UpdatedAt:    snap.UpdatedAt,
		Transcript:   transcript,
	}
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TranscriptResponse carries the accumulated checkpointed text of a task.
type TranscriptResponse struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	Transcript string `json:"transcript"`
}

// ExtractScenePromptsRequest is the body of POST /stream/extract-scene-prompts.
type ExtractScenePromptsRequest struct {
	Text string `json:"text" validate:"required"`
}
