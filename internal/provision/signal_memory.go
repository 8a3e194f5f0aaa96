package provision

import (
	"context"
	"sync"
)

// MemorySignals is an in-memory SignalStore for tests and single-instance
// deployments.
type MemorySignals struct {
	mu    sync.Mutex
	flags map[string]Flags
}

// NewMemorySignals creates an empty in-memory signal store.
func NewMemorySignals() *MemorySignals {
	return &MemorySignals{flags: make(map[string]Flags)}
}

func (s *MemorySignals) Put(_ context.Context, flowID string, f Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[flowID] = f
	return nil
}

func (s *MemorySignals) Get(_ context.Context, flowID string) (Flags, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[flowID], nil
}

func (s *MemorySignals) Clear(_ context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, flowID)
	return nil
}
