package state

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/newthinker/tradecore/internal/core"
)

// Memory is a process-local Storage used by simulations and tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Write(_ context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = slices.Clone(data)
	return nil
}

func (m *Memory) Read(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[path]
	if !ok {
		return nil, core.WrapError(core.ErrNotFound, fmt.Errorf("%s", path))
	}
	return slices.Clone(data), nil
}

