package sandbox

import "sync"

// mailbox is an unbounded FIFO of tasks for one context goroutine
type mailbox struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// push enqueues task and reports false once the mailbox is closed
func (m *mailbox) push(task func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.tasks = append(m.tasks, task)
	m.mu.Unlock()

	m.notify()
	return true
}

// close refuses new tasks; queued ones are still drained
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.notify()
}

func (m *mailbox) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// next blocks for the next task. ok is false once closed and drained.
func (m *mailbox) next() (task func(), ok bool) {
	for {
		m.mu.Lock()
		if len(m.tasks) > 0 {
			task = m.tasks[0]
			m.tasks[0] = nil
			m.tasks = m.tasks[1:]
			m.mu.Unlock()
			return task, true
		}
		if m.closed {
			m.mu.Unlock()
			return nil, false
		}
		m.mu.Unlock()
		<-m.signal
	}
}
