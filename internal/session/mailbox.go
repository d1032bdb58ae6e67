package session

import "sync"

// mailbox runs queued functions one at a time on a dedicated goroutine.
// Every mutation of session state goes through it, so the components it
// drives need no locking of their own. The queue is unbounded: posting never
// blocks, which keeps player callbacks safe even when a player reports
// synchronously from inside a call made on the mailbox goroutine.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newMailbox() *mailbox {
	m := &mailbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go m.run()
	return m
}

// post enqueues fn. It returns false once the mailbox has been shut down.
func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	m.signal()
	return true
}

// call enqueues fn and waits for it to run. It must not be called from the
// mailbox goroutine.
func (m *mailbox) call(fn func()) bool {
	ran := make(chan struct{})
	if !m.post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-m.done:
		return false
	}
}

// shutdown enqueues fn as the final function and rejects later posts.
func (m *mailbox) shutdown(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.closed = true
	m.mu.Unlock()

	m.signal()
	return true
}

// wait blocks until the mailbox goroutine has exited.
func (m *mailbox) wait() {
	<-m.done
}

func (m *mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	defer close(m.done)
	for {
		<-m.wake
		for {
			m.mu.Lock()
			batch := m.queue
			m.queue = nil
			closed := m.closed
			m.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, fn := range batch {
				fn()
			}
		}
	}
}
