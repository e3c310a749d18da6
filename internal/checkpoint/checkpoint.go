package checkpoint

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/fablecast/fablecast-api/internal/domain"
	"github.com/google/uuid"
)

// Status mirrors the task status at the time the checkpoint was written.
type Status string

// Possible checkpoint status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// IsTerminal reports whether no further stage execution will occur.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusFailed, StatusCompleted:
		return true
	default:
		return false
	}
}

// Checkpoint is the durable snapshot of one task's progress. A stage's
// text appears in Stages only once that stage completed and validated;
// in-flight chunks are never persisted. CurrentStage is the index of the
// last completed stage, or -1 when nothing has completed yet.
type Checkpoint struct {
	TaskID       uuid.UUID            `json:"task_id"`
	ClientKey    string               `json:"client_key"`
	Request      domain.ScriptRequest `json:"request"`
	Status       Status               `json:"status"`
	CurrentStage int                  `json:"current_stage"`
	Stages       map[int]string       `json:"stages"`
	FailReason   string               `json:"fail_reason,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// New builds the initial checkpoint written atomically with task creation.
func New(taskID uuid.UUID, clientKey string, req domain.ScriptRequest) *Checkpoint {
	now := time.Now().UTC()
	return &Checkpoint{
		TaskID:       taskID,
		ClientKey:    clientKey,
		Request:      req,
		Status:       StatusPending,
		CurrentStage: -1,
		Stages:       make(map[int]string),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy so callers can mutate their view freely.
func (c *Checkpoint) Clone() *Checkpoint {
	cp := *c
	cp.Stages = make(map[int]string, len(c.Stages))
	for k, v := range c.Stages {
		cp.Stages[k] = v
	}
	cp.Request.Characters = append([]string(nil), c.Request.Characters...)
	return &cp
}

// Transcript concatenates all checkpointed stage outputs in stage order,
// separated by blank lines. Partial while running, complete once done.
func (c *Checkpoint) Transcript() string {
	if len(c.Stages) == 0 {
		return ""
	}

	indexes := make([]int, 0, len(c.Stages))
	for idx := range c.Stages {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	parts := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		parts = append(parts, c.Stages[idx])
	}
	return strings.Join(parts, "\n\n")
}

// Store persists checkpoints keyed by task id. Write replaces the whole
// record atomically: a reader never observes a half-written checkpoint,
// and the write is durable before Write returns so a crash immediately
// after a completed stage never loses that stage's output.
type Store interface {
	// Write atomically replaces the checkpoint for cp.TaskID.
	Write(ctx context.Context, cp *Checkpoint) error

	// Read returns the checkpoint for the given task id, or ErrNotFound.
	Read(ctx context.Context, taskID uuid.UUID) (*Checkpoint, error)

	// ReadByClientKey returns the most recently updated checkpoint
	// carrying the given client correlation key, or ErrNotFound.
	ReadByClientKey(ctx context.Context, clientKey string) (*Checkpoint, error)

	// Delete removes a checkpoint. Deleting an absent id is a no-op.
	Delete(ctx context.Context, taskID uuid.UUID) error
}
