package selection

import "sync"

// mailbox is an unbounded FIFO. put never blocks, so host callbacks (DOM
// bindings, bus handlers) can post events without waiting on the loop.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	closed bool
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{notify: make(chan struct{}, 1)}
}

// put enqueues v. It reports false once the mailbox is closed.
func (m *mailbox[T]) put(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// next blocks until items are queued and returns all of them. It returns
// false when the mailbox is closed and drained.
func (m *mailbox[T]) next() ([]T, bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			batch := m.items
			m.items = nil
			m.mu.Unlock()
			return batch, true
		}
		if m.closed {
			m.mu.Unlock()
			return nil, false
		}
		m.mu.Unlock()
		<-m.notify
	}
}

// close stops accepting items. Queued items are still returned by next.
func (m *mailbox[T]) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}
