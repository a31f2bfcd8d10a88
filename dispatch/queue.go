// Package dispatch serializes callbacks from background network goroutines
// into a single owning execution context. Background listeners Post; the
// owner waits on C and Drains. Only the queue itself is locked; state
// mutated from drained callbacks needs no further synchronization as long
// as a single goroutine drains.
package dispatch

import "sync"

type Queue struct {
	mx     sync.Mutex
	items  []func()
	notify chan struct{}
}

func New() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
	}
}

// Post enqueues fn for execution on the draining goroutine. Safe to call
// from any goroutine. Order is preserved per posting goroutine.
func (q *Queue) Post(fn func()) {
	q.mx.Lock()
	q.items = append(q.items, fn)
	q.mx.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// C signals when at least one item has been posted since the last drain.
func (q *Queue) C() <-chan struct{} {
	return q.notify
}

// Drain runs everything queued at the moment of the call, in posting order,
// then returns. It never blocks waiting for new items; callbacks posted
// while draining are picked up by the next drain.
func (q *Queue) Drain() int {
	q.mx.Lock()
	items := q.items
	q.items = nil
	q.mx.Unlock()

	for _, fn := range items {
		fn()
	}
	return len(items)
}
