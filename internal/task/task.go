package task

import (
	"time"

	"github.com/fablecast/fablecast-api/internal/domain"
	"github.com/google/uuid"
)

// Status represents the current state of a generation task.
type Status string

// Possible task status values. Paused is an internal stage-boundary
// state and is never reported to clients as-is.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// IsTerminal reports whether no further stage execution will occur.
// Failed tasks are terminal but may be re-entered via Resume.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusFailed, StatusCompleted:
		return true
	default:
		return false
	}
}

// Task is the unit of work for one generation request. The request is
// immutable once the task starts; Status and CurrentStage are owned by
// the Manager and mutated only through its serialized transitions.
type Task struct {
	ID           uuid.UUID
	ClientKey    string
	Request      domain.ScriptRequest
	Status       Status
	CurrentStage int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StageCount returns the total number of pipeline stages for this task:
// one outline stage plus one stage per episode.
func (t *Task) StageCount() int {
	return t.Request.Episodes + 1
}

// Snapshot is a read-only view of a task's progress, safe to hand to
// callers without exposing manager-owned state.
type Snapshot struct {
	TaskID       uuid.UUID `json:"task_id"`
	ClientKey    string    `json:"client_key"`
	Status       Status    `json:"status"`
	CurrentStage int       `json:"current_stage"`
	Episodes     int       `json:"episodes"`
	Progress     float64   `json:"progress"`
	FailReason   string    `json:"fail_reason,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// progressFraction computes completed stages over total stages, where
// currentStage is the index of the last completed stage (-1 for none).
func progressFraction(currentStage, episodes int) float64 {
	total := episodes + 1
	if total <= 0 {
		return 0
	}
	done := currentStage + 1
	if done < 0 {
		done = 0
	}
	if done > total {
		done = total
	}
	return float64(done) / float64(total)
}
