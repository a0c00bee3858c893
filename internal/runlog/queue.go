package runlog

import (
	"context"
	"sync"
)

// eventQueue is the unbounded live-subscription queue attached to each run.
// Producers never block: push appends under the lock and signals the waiter.
// Closing the queue is the completion sentinel; buffered events drain before
// the close is observed. Supported for exactly one concurrent consumer.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Event
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues an event. Events arriving after close are dropped; the
// store only closes a queue once the run is terminal, so nothing real is
// lost.
func (q *eventQueue) push(e *Event) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, e)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// close marks the queue terminal and wakes every waiter. Idempotent.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// next blocks until an event is available, the queue is closed (ok=false),
// or ctx is cancelled.
func (q *eventQueue) next(ctx context.Context) (*Event, bool, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.items) > 0 {
			e := q.items[0]
			q.items = q.items[1:]
			return e, true, nil
		}
		if q.closed {
			return nil, false, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		q.cond.Wait()
	}
}
