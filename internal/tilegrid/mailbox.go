package tilegrid

import "sync"

// mailbox hands completions from provider goroutines to the render context.
// It is unbounded so producers never block on a busy render loop.
type mailbox struct {
	mu     sync.Mutex
	items  []Completion
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(c Completion) {
	m.mu.Lock()
	m.items = append(m.items, c)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []Completion {
	m.mu.Lock()
	items := m.items
	m.items = nil
	m.mu.Unlock()
	return items
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
