package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/whizbang-io/whizbang/pkg/storage"
	"github.com/whizbang-io/whizbang/pkg/types"
)

// Memory is the checkpoint store for the embedded deployment mode and
// tests. When a storage.Store is attached every update is persisted.
type Memory struct {
	mu          sync.RWMutex
	checkpoints map[string]types.Checkpoint
	store       storage.Store
}

func key(streamID, projectionName string) string {
	return streamID + "/" + projectionName
}

// NewMemory creates an empty in-memory checkpoint store
func NewMemory() *Memory {
	return &Memory{checkpoints: make(map[string]types.Checkpoint)}
}

// NewMemoryWithStore creates a memory checkpoint store backed by a record
// store, loading any previously persisted checkpoints
func NewMemoryWithStore(store storage.Store) (*Memory, error) {
	m := NewMemory()
	m.store = store

	records, err := store.ListCheckpoints()
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints: %w", err)
	}
	for _, record := range records {
		m.checkpoints[key(record.StreamID, record.ProjectionName)] = *record
	}
	return m, nil
}

func (m *Memory) Get(ctx context.Context, streamID, projectionName string) (*types.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[key(streamID, projectionName)]
	if !ok {
		return nil, ErrNotFound
	}
	return &cp, nil
}

func (m *Memory) List(ctx context.Context, streamID string) ([]types.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var checkpoints []types.Checkpoint
	for _, cp := range m.checkpoints {
		if streamID == "" || cp.StreamID == streamID {
			checkpoints = append(checkpoints, cp)
		}
	}
	return checkpoints, nil
}

func (m *Memory) Complete(ctx context.Context, c types.CheckpointCompletion) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(c.StreamID, c.ProjectionName)
	var existing *types.Checkpoint
	if cp, ok := m.checkpoints[k]; ok {
		existing = &cp
	}

	next := applyCompletion(existing, c, time.Now().UTC())
	if m.store != nil {
		if err := m.store.PutCheckpoint(&next); err != nil {
			return fmt.Errorf("failed to persist checkpoint: %w", err)
		}
	}
	m.checkpoints[k] = next
	return nil
}
