package relay

import (
	"context"
	"sync"
)

// messageQueue is an unbounded FIFO queue.
//
// Producers never block. Consumers wait on ready, a one-slot signal channel
// that is re-armed after every pop while items remain, so any number of
// consumers can share the queue and still select on it alongside other
// channels.
type messageQueue struct {
	mu     sync.Mutex
	closed bool
	items  []Message

	ready chan struct{}
	done  chan struct{}
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends m. It reports false once the queue is closed.
func (q *messageQueue) Push(m Message) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, m)
	q.mu.Unlock()
	q.signal()
	return true
}

// TryPop removes the head of the queue without waiting.
func (q *messageQueue) TryPop() (Message, bool) {
	q.mu.Lock()
	if q.closed || len(q.items) == 0 {
		q.mu.Unlock()
		return Message{}, false
	}
	m := q.items[0]
	q.items[0] = Message{}
	q.items = q.items[1:]
	more := len(q.items) > 0
	if !more {
		q.items = nil
	}
	q.mu.Unlock()

	if more {
		q.signal()
	}
	return m, true
}

// Pop blocks until an item is available, the queue is closed (ErrNotActive)
// or ctx is done.
func (q *messageQueue) Pop(ctx context.Context) (Message, error) {
	for {
		if q.Closed() {
			return Message{}, ErrNotActive
		}
		if m, ok := q.TryPop(); ok {
			return m, nil
		}
		select {
		case <-q.ready:
		case <-q.done:
			return Message{}, ErrNotActive
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Ready fires when an item may be available. Receivers must follow up with
// TryPop.
func (q *messageQueue) Ready() <-chan struct{} { return q.ready }

func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *messageQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close discards queued items and wakes every waiter.
func (q *messageQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	close(q.done)
}

func (q *messageQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
