package session

import "sync"

// EventQueue is an unbounded, thread-safe FIFO of OutputEvents. The reader
// pumps push without ever blocking the child process; consumers block in Pop
// until an event arrives or the queue is closed and drained.
type EventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []OutputEvent
	closed bool
}

// NewEventQueue creates an empty open queue.
func NewEventQueue() *EventQueue {
	q := &EventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an event. Pushing to a closed queue is a no-op.
func (q *EventQueue) Push(ev OutputEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.events = append(q.events, ev)
	q.cond.Signal()
}

// Pop removes and returns the oldest event, blocking while the queue is
// empty. Returns ok=false only when the queue is closed and fully drained.
func (q *EventQueue) Pop() (OutputEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.events) == 0 {
		return OutputEvent{}, false
	}
	ev := q.events[0]
	q.events = q.events[1:]
	return ev, true
}

// Discard drops all queued events. Used between executions to shed output
// that arrived after the previous completion sentinel, such as stderr from a
// backgrounded command.
func (q *EventQueue) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = nil
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close marks the queue closed and wakes all blocked consumers. Events
// already queued remain readable.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
