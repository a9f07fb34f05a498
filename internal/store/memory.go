package store

import (
	"context"
	"sync"
)

// MemoryPins is a process-local pin registry for tests and single-node runs
// without redis.
type MemoryPins struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryPins() *MemoryPins {
	return &MemoryPins{held: make(map[string]bool)}
}

func (m *MemoryPins) Reserve(_ context.Context, pin string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[pin] {
		return false, nil
	}
	m.held[pin] = true
	return true, nil
}

func (m *MemoryPins) Release(_ context.Context, pin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, pin)
	return nil
}
