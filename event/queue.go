package event

import "sync"

// Queue is an unbounded ordered handoff from the dispatcher to the
// consumer. Put never blocks; Out() blocks (via channel receive) while
// empty. Close drains everything enqueued so far to the consumer and then
// closes the out channel; the sequence cannot be restarted.
type Queue struct {
	mu     sync.Mutex
	buf    []*Event
	closed bool

	wake chan struct{}
	out  chan *Event
}

// NewQueue starts the delivery pump.
func NewQueue() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		out:  make(chan *Event),
	}
	go q.pump()
	return q
}

// Put appends e to the queue. It is non-blocking and silently drops
// events arriving after Close.
func (q *Queue) Put(e *Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.buf = append(q.buf, e)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Out is the consumer side. Events arrive in Put order; the channel closes
// after Close once everything enqueued before it has been delivered.
func (q *Queue) Out() <-chan *Event {
	return q.out
}

// Len reports the number of undelivered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Close stops the queue. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pump() {
	for {
		q.mu.Lock()
		for len(q.buf) > 0 {
			e := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			q.out <- e
			q.mu.Lock()
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			close(q.out)
			return
		}
		<-q.wake
	}
}
