package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/redactor/constants"
)

// StatusCache is a write-through copy of batch statuses. It is never the
// source of truth; a miss means the caller reads the Record Store.
type StatusCache interface {
	GetStatus(ctx context.Context, batchID uuid.UUID) (constants.BatchStatus, bool, error)
	SetStatus(ctx context.Context, batchID uuid.UUID, status constants.BatchStatus) error
	Delete(ctx context.Context, batchID uuid.UUID) error
}

// Nop is used when no cache is configured.
type Nop struct{}

func (Nop) GetStatus(context.Context, uuid.UUID) (constants.BatchStatus, bool, error) {
	return "", false, nil
}

func (Nop) SetStatus(context.Context, uuid.UUID, constants.BatchStatus) error { return nil }

func (Nop) Delete(context.Context, uuid.UUID) error { return nil }

// Memory is an in-process cache for tests and single-binary deployments.
type Memory struct {
	mu       sync.RWMutex
	statuses map[uuid.UUID]constants.BatchStatus
}

func NewMemory() *Memory {
	return &Memory{statuses: make(map[uuid.UUID]constants.BatchStatus)}
}

func (m *Memory) GetStatus(_ context.Context, batchID uuid.UUID) (constants.BatchStatus, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[batchID]
	return s, ok, nil
}

func (m *Memory) SetStatus(_ context.Context, batchID uuid.UUID, status constants.BatchStatus) error {
	m.mu.Lock()
	m.statuses[batchID] = status
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, batchID uuid.UUID) error {
	m.mu.Lock()
	delete(m.statuses, batchID)
	m.mu.Unlock()
	return nil
}
