// Package history keeps the connection-scoped chat log and mirrors it to a
// persistence collaborator under a single fixed slot.
package history

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/comigor/sidechat/internal/protocol"
)

// Slot is the storage key the log is saved under.
const Slot = "messages"

// Persister loads and saves the whole log.
type Persister interface {
	Load(ctx context.Context) ([]protocol.Message, error)
	Save(ctx context.Context, msgs []protocol.Message) error
}

// Log is the ordered history of the current connection. Insertion order is
// arrival order; there is no deduplication and no bound.
type Log struct {
	mu       sync.Mutex
	messages []protocol.Message
	store    Persister
}

// NewLog returns an empty log backed by store.
func NewLog(store Persister) *Log {
	return &Log{store: store}
}

// Restore replaces the in-memory log with what the store holds. System
// notices that somehow reached the store are dropped.
func (l *Log) Restore(ctx context.Context) ([]protocol.Message, error) {
	msgs, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	msgs = slices.DeleteFunc(msgs, func(m protocol.Message) bool { return !m.Persistable() })

	l.mu.Lock()
	l.messages = msgs
	out := slices.Clone(l.messages)
	l.mu.Unlock()
	return out, nil
}

// Append adds msg and saves the full log. System notices are ignored and
// report false.
func (l *Log) Append(ctx context.Context, msg protocol.Message) (bool, error) {
	if !msg.Persistable() {
		return false, nil
	}

	l.mu.Lock()
	l.messages = append(l.messages, msg)
	snapshot := slices.Clone(l.messages)
	l.mu.Unlock()

	if err := l.store.Save(ctx, snapshot); err != nil {
		return true, fmt.Errorf("save history: %w", err)
	}
	return true, nil
}

// Reset empties the log and saves the empty log.
func (l *Log) Reset(ctx context.Context) error {
	l.mu.Lock()
	l.messages = nil
	l.mu.Unlock()

	if err := l.store.Save(ctx, []protocol.Message{}); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	return nil
}

// Messages returns a copy of the log.
func (l *Log) Messages() []protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.messages)
}

// Len returns the number of logged messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
