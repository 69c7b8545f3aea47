// Package dispatch provides the scheduling context on which asynchronous results are delivered.
package dispatch

import (
	"sync"

	"github.com/gammazero/deque"
)

// Dispatcher runs functions on a scheduling context owned by the caller of asynchronous operations.
type Dispatcher interface {
	// Dispatch schedules fn. It must not block.
	Dispatch(fn func())
}

// Func adapts a plain function to a Dispatcher.
type Func func(fn func())

// Dispatch calls f(fn).
func (f Func) Dispatch(fn func()) {
	f(fn)
}

// Queue is a serial executor: functions run one at a time, in submission order, on a single
// goroutine. Dispatch never blocks, the backlog is unbounded.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending deque.Deque[func()]
	closed  bool
	done    chan struct{}
}

// NewQueue creates a Queue and starts its goroutine.
func NewQueue() *Queue {
	q := &Queue{
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	go q.run()

	return q
}

// Dispatch appends fn to the queue. Functions dispatched after Close are dropped, so producers
// must finish dispatching before the queue is closed.
func (q *Queue) Dispatch(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.pending.PushBack(fn)
	q.cond.Signal()
}

// Close stops accepting functions, runs the ones already queued and waits for the queue goroutine to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Signal()
	}
	q.mu.Unlock()

	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for q.pending.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.pending.Len() == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending.PopFront()
		q.mu.Unlock()

		fn()
	}
}
