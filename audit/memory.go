package audit

import (
	"context"
	"sync"
)

// Memory keeps events in process. Tests use it to assert event order.
type Memory struct {
	mu     sync.RWMutex
	events []Event
	limit  int
}

// NewMemory returns a Memory sink that keeps at most limit events; limit <= 0
// keeps everything.
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

func (m *Memory) Append(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, e)
	if m.limit > 0 && len(m.events) > m.limit {
		m.events = append(m.events[:0:0], m.events[len(m.events)-m.limit:]...)
	}
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (m *Memory) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Kinds returns the kinds of the retained events, oldest first.
func (m *Memory) Kinds() []Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Kind, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Kind)
	}
	return out
}

// Filter returns retained events of kind k.
func (m *Memory) Filter(k Kind) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, e := range m.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
