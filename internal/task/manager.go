package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fablecast/fablecast-api/internal/checkpoint"
	"github.com/fablecast/fablecast-api/internal/domain"
	"github.com/fablecast/fablecast-api/internal/events"
	"github.com/fablecast/fablecast-api/internal/generation"
	"github.com/google/uuid"
)

// ManagerConfig tunes pipeline execution.
type ManagerConfig struct {
	// StageRetries is how many times a stage is restarted after a
	// transient generator failure before the task fails.
	StageRetries int

	// RetryDelay is the pause between stage retry attempts.
	RetryDelay time.Duration
}

// DefaultManagerConfig returns the production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		StageRetries: 3,
		RetryDelay:   2 * time.Second,
	}
}

// handle tracks one task known to this process: its manager-owned state,
// its durable checkpoint, and the cancel function of a running pipeline.
type handle struct {
	task    *Task
	cp      *checkpoint.Checkpoint
	cancel  context.CancelFunc
	running bool
}

// Manager owns the registry of tasks and is the single entry point for
// creating, starting, cancelling, resuming and observing them. It is the
// only writer of Task.Status: every transition happens under one lock,
// so concurrent start/cancel/resume calls on the same task cannot race
// into an inconsistent status. Checkpoint writes happen inside the same
// critical section, keeping the durable record in step with the
// in-memory status.
type Manager struct {
	mu       sync.Mutex
	tasks    map[uuid.UUID]*handle
	byClient map[string]uuid.UUID

	store     checkpoint.Store
	bus       *events.Bus
	generator generation.Generator
	cfg       ManagerConfig
	logger    *slog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager creates a Manager with an empty registry. The registry
// lives until Shutdown, which cancels every running pipeline.
func NewManager(
	store checkpoint.Store,
	bus *events.Bus,
	generator generation.Generator,
	cfg ManagerConfig,
	logger *slog.Logger,
) *Manager {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	return &Manager{
		tasks:      make(map[uuid.UUID]*handle),
		byClient:   make(map[string]uuid.UUID),
		store:      store,
		bus:        bus,
		generator:  generator,
		cfg:        cfg,
		logger:     logger.With("component", "task_manager"),
		baseCtx:    baseCtx,
		cancelBase: cancelBase,
	}
}

// CreateTask validates the request, assigns an id, persists the initial
// checkpoint, and registers the task. The checkpoint is durable before
// CreateTask returns, so a checkpoint always exists before any consumer
// can observe the task. Validation failures leave no state behind.
func (m *Manager) CreateTask(ctx context.Context, req domain.ScriptRequest, clientKey string) (uuid.UUID, error) {
	if err := req.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	taskID := uuid.New()
	now := time.Now().UTC()
	t := &Task{
		ID:           taskID,
		ClientKey:    clientKey,
		Request:      req,
		Status:       StatusPending,
		CurrentStage: -1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	cp := checkpoint.New(taskID, clientKey, req)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Write(ctx, cp); err != nil {
		return uuid.Nil, fmt.Errorf("persist initial checkpoint: %w", err)
	}

	m.tasks[taskID] = &handle{task: t, cp: cp}
	if clientKey != "" {
		m.byClient[clientKey] = taskID
	}

	m.bus.Register(taskID)
	if _, err := m.bus.Publish(taskID, events.NewTaskCreated()); err != nil {
		m.logger.Warn("failed to publish task created event", "task_id", taskID, "error", err)
	}

	m.logger.Info("task created",
		"task_id", taskID,
		"client_key", clientKey,
		"episodes", req.Episodes)

	return taskID, nil
}

// Start transitions a pending task to running and spawns its pipeline.
// Calling Start on an already-running task is a no-op; calling it on a
// terminal task fails with ErrInvalidState.
func (m *Manager) Start(taskID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}

	if h.running {
		return nil
	}
	if h.task.Status != StatusPending {
		return fmt.Errorf("%w: cannot start task in status %q", ErrInvalidState, h.task.Status)
	}

	m.launchPipelineLocked(h, 0)
	return nil
}

// Cancel transitions any non-terminal task to cancelled, publishes the
// terminal event, persists the final status, and signals the pipeline to
// stop at the next chunk boundary. It returns without waiting for
// pipeline teardown. Cancelling an unknown task fails with ErrNotFound;
// cancelling an already-terminal task is a no-op.
func (m *Manager) Cancel(ctx context.Context, taskID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.tasks[taskID]
	if !ok {
		// Cancels can arrive after a restart for tasks only the store
		// remembers. Treat a terminal checkpoint as a no-op too.
		cp, err := m.store.Read(ctx, taskID)
		if err != nil {
			return ErrNotFound
		}
		if cp.Status.IsTerminal() {
			return nil
		}
		cp.Status = checkpoint.StatusCancelled
		cp.UpdatedAt = time.Now().UTC()
		return m.store.Write(ctx, cp)
	}

	if h.task.Status.IsTerminal() {
		return nil
	}

	h.task.Status = StatusCancelled
	h.task.UpdatedAt = time.Now().UTC()
	if h.cancel != nil {
		h.cancel()
	}

	h.cp.Status = checkpoint.StatusCancelled
	h.cp.UpdatedAt = h.task.UpdatedAt
	if err := m.store.Write(ctx, h.cp); err != nil {
		m.logger.Error("failed to persist cancelled status", "task_id", taskID, "error", err)
	}

	if _, err := m.bus.Publish(taskID, events.NewCancelled()); err != nil {
		m.logger.Warn("failed to publish cancelled event", "task_id", taskID, "error", err)
	}

	m.logger.Info("task cancelled", "task_id", taskID)
	return nil
}

// Resume re-enters the pipeline of a failed or paused task at the stage
// after its last checkpointed one, reusing all checkpointed output. It
// fails with ErrInvalidState if the task is running, cancelled, or
// completed. Tasks known only to the checkpoint store (after a process
// restart) are reconstructed into the registry.
func (m *Manager) Resume(ctx context.Context, taskID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.tasks[taskID]
	if !ok {
		cp, err := m.store.Read(ctx, taskID)
		if err != nil {
			return ErrNotFound
		}
		h = &handle{
			task: &Task{
				ID:           cp.TaskID,
				ClientKey:    cp.ClientKey,
				Request:      cp.Request,
				Status:       Status(cp.Status),
				CurrentStage: cp.CurrentStage,
				CreatedAt:    cp.CreatedAt,
				UpdatedAt:    cp.UpdatedAt,
			},
			cp: cp,
		}
		// A crash mid-run leaves the checkpoint in running status with no
		// live pipeline behind it. Treat it as interrupted and resumable.
		if h.task.Status == StatusRunning {
			h.task.Status = StatusPaused
			h.cp.Status = checkpoint.StatusPaused
		}
		m.tasks[taskID] = h
		if cp.ClientKey != "" {
			m.byClient[cp.ClientKey] = taskID
		}
	}

	if h.running {
		return fmt.Errorf("%w: task is already running", ErrInvalidState)
	}
	switch h.task.Status {
	case StatusFailed, StatusPaused:
		// resumable
	default:
		return fmt.Errorf("%w: cannot resume task in status %q", ErrInvalidState, h.task.Status)
	}

	h.task.UpdatedAt = time.Now().UTC()
	h.cp.FailReason = ""

	// A resumed task gets a fresh event sequence. Output completed before
	// the resume is reachable through the transcript, not through replay.
	m.bus.Reset(taskID)

	m.launchPipelineLocked(h, h.cp.CurrentStage+1)

	m.logger.Info("task resumed",
		"task_id", taskID,
		"from_stage", h.cp.CurrentStage+1)
	return nil
}

// launchPipelineLocked marks the task running and spawns its pipeline
// goroutine. Callers must hold m.mu.
func (m *Manager) launchPipelineLocked(h *handle, fromStage int) {
	pipelineCtx, cancel := context.WithCancel(m.baseCtx)
	h.cancel = cancel
	h.running = true
	h.task.Status = StatusRunning
	h.task.UpdatedAt = time.Now().UTC()

	h.cp.Status = checkpoint.StatusRunning
	h.cp.UpdatedAt = h.task.UpdatedAt
	if err := m.store.Write(context.Background(), h.cp); err != nil {
		m.logger.Error("failed to persist running status", "task_id", h.task.ID, "error", err)
	}

	p := &pipeline{
		manager:   m,
		taskID:    h.task.ID,
		request:   h.task.Request,
		generator: m.generator,
		bus:       m.bus,
		retries:   m.cfg.StageRetries,
		delay:     m.cfg.RetryDelay,
		logger: m.logger.With(
			"component", "stage_pipeline",
			"task_id", h.task.ID,
		),
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		p.run(pipelineCtx, fromStage)
	}()
}

// GetStatus returns the task's current snapshot without touching the
// pipeline. Tasks absent from the registry are looked up in the store.
func (m *Manager) GetStatus(ctx context.Context, taskID uuid.UUID) (Snapshot, error) {
	m.mu.Lock()
	h, ok := m.tasks[taskID]
	if ok {
		snap := m.snapshotLocked(h)
		m.mu.Unlock()
		return snap, nil
	}
	m.mu.Unlock()

	cp, err := m.store.Read(ctx, taskID)
	if err != nil {
		return Snapshot{}, ErrNotFound
	}
	return snapshotFromCheckpoint(cp), nil
}

// GetStatusByClientKey resolves a client correlation key to its most
// recent task and returns that task's snapshot.
func (m *Manager) GetStatusByClientKey(ctx context.Context, clientKey string) (Snapshot, error) {
	m.mu.Lock()
	if taskID, ok := m.byClient[clientKey]; ok {
		if h, ok := m.tasks[taskID]; ok {
			snap := m.snapshotLocked(h)
			m.mu.Unlock()
			return snap, nil
		}
	}
	m.mu.Unlock()

	cp, err := m.store.ReadByClientKey(ctx, clientKey)
	if err != nil {
		return Snapshot{}, ErrNotFound
	}
	return snapshotFromCheckpoint(cp), nil
}

// FullTranscript concatenates all checkpointed stage outputs. While the
// task is running this returns whatever is checkpointed so far.
func (m *Manager) FullTranscript(ctx context.Context, taskID uuid.UUID) (string, error) {
	cp, err := m.store.Read(ctx, taskID)
	if err != nil {
		return "", ErrNotFound
	}
	return cp.Transcript(), nil
}

// Checkpoint returns a copy of the task's durable checkpoint.
func (m *Manager) Checkpoint(ctx context.Context, taskID uuid.UUID) (*checkpoint.Checkpoint, error) {
	cp, err := m.store.Read(ctx, taskID)
	if err != nil {
		return nil, ErrNotFound
	}
	return cp, nil
}

// Shutdown cancels every running pipeline and waits for them to drain,
// or until ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancelBase()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait: %w", ctx.Err())
	}
}

// snapshotLocked builds a Snapshot from a registry handle. Callers must
// hold m.mu.
func (m *Manager) snapshotLocked(h *handle) Snapshot {
	status := h.task.Status
	if status == StatusPaused {
		// Paused is a stage-boundary implementation detail.
		status = StatusRunning
	}
	return Snapshot{
		TaskID:       h.task.ID,
		ClientKey:    h.task.ClientKey,
		Status:       status,
		CurrentStage: h.task.CurrentStage,
		Episodes:     h.task.Request.Episodes,
		Progress:     progressFraction(h.task.CurrentStage, h.task.Request.Episodes),
		FailReason:   h.cp.FailReason,
		UpdatedAt:    h.task.UpdatedAt,
	}
}

// snapshotFromCheckpoint builds a Snapshot for a task only the durable
// store remembers.
func snapshotFromCheckpoint(cp *checkpoint.Checkpoint) Snapshot {
	status := Status(cp.Status)
	if status == StatusPaused {
		status = StatusRunning
	}
	return Snapshot{
		TaskID:       cp.TaskID,
		ClientKey:    cp.ClientKey,
		Status:       status,
		CurrentStage: cp.CurrentStage,
		Episodes:     cp.Request.Episodes,
		Progress:     progressFraction(cp.CurrentStage, cp.Request.Episodes),
		FailReason:   cp.FailReason,
		UpdatedAt:    cp.UpdatedAt,
	}
}

// The methods below are the accessors the pipeline mutates task state
// through, keeping every transition serialized under the manager lock.

// checkpointStage records a completed stage: it stores the stage text,
// advances CurrentStage, and durably writes the checkpoint before
// returning. It refuses to write if the task was cancelled in the
// meantime, leaving the previous checkpoint as the resumption point.
func (m *Manager) checkpointStage(taskID uuid.UUID, stage int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if h.task.Status != StatusRunning {
		return fmt.Errorf("%w: task is %q", ErrInvalidState, h.task.Status)
	}

	now := time.Now().UTC()
	h.task.CurrentStage = stage
	h.task.UpdatedAt = now

	h.cp.Stages[stage] = text
	h.cp.CurrentStage = stage
	h.cp.UpdatedAt = now

	if err := m.store.Write(context.Background(), h.cp); err != nil {
		return fmt.Errorf("persist stage checkpoint: %w", err)
	}
	return nil
}

// stageTexts returns copies of the checkpointed outline and the text of
// the given stage's predecessor, for prompt construction.
func (m *Manager) stageTexts(taskID uuid.UUID, stage int) (outline string, prior string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.tasks[taskID]
	if !ok {
		return "", ""
	}
	outline = h.cp.Stages[0]
	if stage > 1 {
		prior = h.cp.Stages[stage-1]
	}
	return outline, prior
}

// finishCompleted marks a task completed after its last stage and
// publishes the terminal event.
func (m *Manager) finishCompleted(taskID uuid.UUID) {
	m.finishLocked(taskID, StatusCompleted, "")
}

// finishFailed marks a task failed with the given reason and publishes
// the terminal event. The checkpoint keeps the last successful stage.
func (m *Manager) finishFailed(taskID uuid.UUID, reason string) {
	m.finishLocked(taskID, StatusFailed, reason)
}

// pipelineStopped clears the running flag once a pipeline goroutine
// exits, whatever the reason.
func (m *Manager) pipelineStopped(taskID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.tasks[taskID]; ok {
		h.running = false
	}
}

// isCancelled reports whether the task was cancelled.
func (m *Manager) isCancelled(taskID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.tasks[taskID]
	return ok && h.task.Status == StatusCancelled
}

// finishLocked applies a terminal transition, persists it, and publishes
// the matching terminal event. Transitions from an already-terminal
// status are ignored so a cancel racing a completion cannot emit two
// terminal events.
func (m *Manager) finishLocked(taskID uuid.UUID, status Status, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.tasks[taskID]
	if !ok {
		return
	}
	if h.task.Status.IsTerminal() {
		return
	}

	now := time.Now().UTC()
	h.task.Status = status
	h.task.UpdatedAt = now

	h.cp.Status = checkpoint.Status(status)
	h.cp.FailReason = reason
	h.cp.UpdatedAt = now
	if err := m.store.Write(context.Background(), h.cp); err != nil {
		m.logger.Error("failed to persist terminal status",
			"task_id", taskID,
			"status", status,
			"error", err)
	}

	var ev events.Event
	switch status {
	case StatusCompleted:
		ev = events.NewCompleted()
	case StatusFailed:
		ev = events.NewFailed(reason)
	default:
		ev = events.NewCancelled()
	}
	if _, err := m.bus.Publish(taskID, ev); err != nil {
		m.logger.Warn("failed to publish terminal event",
			"task_id", taskID,
			"status", status,
			"error", err)
	}

	m.logger.Info("task finished", "task_id", taskID, "status", status)
}
