package checkpoint

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used in tests and as a fallback when
// no durable backend is configured. Clones on both write and read keep
// callers from sharing mutable state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[uuid.UUID]*Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[uuid.UUID]*Checkpoint)}
}

// Write atomically replaces the stored checkpoint.
func (s *MemoryStore) Write(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.TaskID == uuid.Nil {
		return ErrInvalidCheckpoint
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.TaskID] = cp.Clone()
	return nil
}

// Read returns a copy of the checkpoint for the given task id.
func (s *MemoryStore) Read(ctx context.Context, taskID uuid.UUID) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return cp.Clone(), nil
}

// ReadByClientKey returns the most recently updated checkpoint for the key.
func (s *MemoryStore) ReadByClientKey(ctx context.Context, clientKey string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Checkpoint
	for _, cp := range s.checkpoints {
		if cp.ClientKey != clientKey {
			continue
		}
		if latest == nil || cp.UpdatedAt.After(latest.UpdatedAt) {
			latest = cp
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

// Delete removes a checkpoint; absent ids are a no-op.
func (s *MemoryStore) Delete(ctx context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, taskID)
	return nil
}

// interface guard
var _ Store = (*MemoryStore)(nil)
