// Package sendqueue serializes asynchronous writes on a connection. It
// guarantees that at most one write is in flight at any instant and that
// completion callbacks fire in push order.
package sendqueue

import "sync"

// An Endpoint accepts one buffer per write. Transports adapt their
// per-remote-rank connections to this interface.
type Endpoint interface {
	WriteValues(buf []float64) error
}

// A queued write owns its buffer from push until the completion callback
// returns.
type item struct {
	ep         Endpoint
	buf        []float64
	onComplete func(error)
}

// A Queue dispatches pushed writes strictly in FIFO order, one at a time.
// The zero value is not usable; create queues with New.
//
// A Queue orders the writes of a single remote connection. Sharing one
// queue across connections would serialize unrelated peers against each
// other and can deadlock point-to-point exchanges with many simultaneous
// neighbors, so each connection owns its own queue.
type Queue struct {
	mu    sync.Mutex
	items []item
	busy  bool
}

// New creates an empty, ready Queue.
func New() *Queue {
	return &Queue{}
}

// Push enqueues a write of buf to ep. If the queue is ready and empty the
// write dispatches immediately; otherwise it waits its turn. onComplete may
// be nil; when set, it runs on the I/O goroutine after the write finishes
// and receives the write error, if any. A failed write fails only its own
// item; the queue keeps draining the rest.
func (q *Queue) Push(ep Endpoint, buf []float64, onComplete func(error)) {
	it := item{ep: ep, buf: buf, onComplete: onComplete}

	q.mu.Lock()
	if q.busy {
		q.items = append(q.items, it)
		q.mu.Unlock()
		return
	}

	q.busy = true
	q.mu.Unlock()

	go q.drain(it)
}

// drain performs writes one after another on a single goroutine. The lock
// guards only the enqueue/dequeue bookkeeping, never the write itself, and
// the chain is an iterative loop rather than recursion under the lock.
func (q *Queue) drain(it item) {
	for {
		err := it.ep.WriteValues(it.buf)
		if it.onComplete != nil {
			it.onComplete(err)
		}

		q.mu.Lock()
		if len(q.items) == 0 {
			q.busy = false
			q.mu.Unlock()
			return
		}

		it = q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
	}
}

// Pending returns the number of writes that are enqueued but not yet
// dispatched.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
