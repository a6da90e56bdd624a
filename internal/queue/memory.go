package queue

import (
	"context"
	"fmt"
	"sync"
)

// Memory is a channel-backed Publisher for tests and single-process runs
// without a queue broker. Safe for concurrent use.
type Memory struct {
	events chan Event
	mu     sync.RWMutex
	closed bool
}

// NewMemory creates an in-process queue holding up to size undelivered events.
func NewMemory(size int) *Memory {
	return &Memory{events: make(chan Event, size)}
}

func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("queue is closed")
	}
	select {
	case m.events <- event:
		return nil
	default:
		return fmt.Errorf("queue is full")
	}
}

// Events exposes the delivery side of the queue.
func (m *Memory) Events() <-chan Event {
	return m.events
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}

var _ Publisher = (*Memory)(nil)
