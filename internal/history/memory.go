package history

import (
	"context"
	"slices"
	"sync"

	"github.com/comigor/sidechat/internal/protocol"
)

// Memory is an in-process Persister.
type Memory struct {
	mu    sync.Mutex
	slots map[string][]protocol.Message
}

func NewMemory() *Memory {
	return &Memory{slots: make(map[string][]protocol.Message)}
}

func (m *Memory) Load(_ context.Context) ([]protocol.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.slots[Slot]), nil
}

func (m *Memory) Save(_ context.Context, msgs []protocol.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[Slot] = slices.Clone(msgs)
	return nil
}
