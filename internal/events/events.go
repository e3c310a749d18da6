package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of change an Event describes.
type Type string

// Event types emitted by the generation pipeline, in the order a healthy
// task produces them. Cancelled, Failed and Completed are terminal.
const (
	TypeTaskCreated    Type = "task_created"
	TypeStatusChanged  Type = "status_changed"
	TypeProgress       Type = "progress"
	TypeStageStarted   Type = "stage_started"
	TypeContentChunk   Type = "content_chunk"
	TypeStageCompleted Type = "stage_completed"
	TypeCancelled      Type = "cancelled"
	TypeFailed         Type = "failed"
	TypeCompleted      Type = "completed"
)

// Event is one immutable, observable change in a task's lifecycle.
// Seq is assigned by the Bus at publish time: a per-task monotonic
// counter starting at 0 with no gaps, which is what lets a late
// subscriber ask for "everything after sequence N".
type Event struct {
	Seq    int64     `json:"seq"`
	TaskID uuid.UUID `json:"task_id"`
	Type   Type      `json:"type"`
	At     time.Time `json:"at"`

	// Stage is the stage index the event refers to, where 0 is the
	// outline stage and 1..N are episodes. -1 when not stage-scoped.
	Stage int `json:"stage"`

	// Message carries human-readable status text for StatusChanged.
	Message string `json:"message,omitempty"`

	// Text carries chunk or full-stage content for ContentChunk and
	// StageCompleted events.
	Text string `json:"text,omitempty"`

	// IsFinal marks the last chunk of a stage.
	IsFinal bool `json:"is_final,omitempty"`

	// Current and Total describe progress through the episode stages.
	Current int `json:"current,omitempty"`
	Total   int `json:"total,omitempty"`

	// Reason carries the failure description for Failed events.
	Reason string `json:"reason,omitempty"`
}

// IsTerminal reports whether this event ends the task's stream.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case TypeCancelled, TypeFailed, TypeCompleted:
		return true
	default:
		return false
	}
}

// The constructors below build unstamped events; the Bus assigns Seq,
// TaskID and At when the event is published.

// NewTaskCreated announces a freshly created task.
func NewTaskCreated() Event {
	return Event{Type: TypeTaskCreated, Stage: -1}
}

// NewStatusChanged carries a human-readable status message.
func NewStatusChanged(message string) Event {
	return Event{Type: TypeStatusChanged, Stage: -1, Message: message}
}

// NewProgress reports completed episodes out of the requested total.
func NewProgress(current, total int) Event {
	return Event{Type: TypeProgress, Stage: -1, Current: current, Total: total}
}

// NewStageStarted marks the start of stage execution.
func NewStageStarted(stage int) Event {
	return Event{Type: TypeStageStarted, Stage: stage}
}

// NewContentChunk carries one text fragment of an in-progress stage.
func NewContentChunk(stage int, text string, isFinal bool) Event {
	return Event{Type: TypeContentChunk, Stage: stage, Text: text, IsFinal: isFinal}
}

// NewStageCompleted carries the fully assembled text of a finished stage.
func NewStageCompleted(stage int, fullText string) Event {
	return Event{Type: TypeStageCompleted, Stage: stage, Text: fullText}
}

// NewCancelled is the terminal event of a client-cancelled task.
func NewCancelled() Event {
	return Event{Type: TypeCancelled, Stage: -1}
}

// NewFailed is the terminal event of a failed task.
func NewFailed(reason string) Event {
	return Event{Type: TypeFailed, Stage: -1, Reason: reason}
}

// NewCompleted is the terminal event of a successful task.
func NewCompleted() Event {
	return Event{Type: TypeCompleted, Stage: -1}
}
