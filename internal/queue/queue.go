package queue

import (
	"context"
	"sync"
	"time"
)

// Queue is an unbounded, in-memory FIFO of pending tasks. It is safe for any
// number of producers and consumers.
type Queue struct {
	mu      sync.Mutex
	items   []Task
	waiters []chan struct{}

	// pending counts tasks enqueued but not yet marked done.
	pending int
	drained chan struct{}
}

func New() *Queue {
	drained := make(chan struct{})
	close(drained)
	return &Queue{drained: drained}
}

// Enqueue appends t at the tail and wakes at most one blocked consumer.
// It never blocks and never fails.
func (q *Queue) Enqueue(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, t)
	if q.pending == 0 {
		q.drained = make(chan struct{})
	}
	q.pending++
	q.wakeOneLocked()
}

// Requeue puts a claimed task back at the head, ahead of everything that was
// enqueued after it. The task still counts as pending.
func (q *Queue) Requeue(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append([]Task{t}, q.items...)
	q.wakeOneLocked()
}

// Dequeue removes and returns the head task, waiting up to timeout for one to
// arrive. It returns false if the timeout elapses or ctx ends first; that is
// an expected condition, not an error.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Task, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if t, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return t, true
		}
		wake := make(chan struct{}, 1)
		q.waiters = append(q.waiters, wake)
		q.mu.Unlock()

		select {
		case <-wake:
			// Someone else may have taken it already; go around again.
		case <-timer.C:
			q.leave(wake)
			return Task{}, false
		case <-ctx.Done():
			q.leave(wake)
			return Task{}, false
		}
	}
}

// Done marks one previously dequeued task as finished.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending == 0 {
		return
	}
	q.pending--
	if q.pending == 0 {
		close(q.drained)
	}
}

// Join blocks until every enqueued task has been marked done, or ctx ends.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	drained := q.drained
	q.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of tasks waiting to be claimed.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns the number of tasks not yet marked done, claimed or not.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *Queue) popLocked() (Task, bool) {
	if len(q.items) == 0 {
		return Task{}, false
	}
	t := q.items[0]
	q.items[0] = Task{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return t, true
}

func (q *Queue) wakeOneLocked() {
	if len(q.waiters) == 0 {
		return
	}
	w := q.waiters[0]
	q.waiters[0] = nil
	q.waiters = q.waiters[1:]
	w <- struct{}{}
}

// leave deregisters a waiter that gave up. If it was woken in the meantime the
// wake-up is handed to the next waiter so a queued task is never stranded.
func (q *Queue) leave(wake chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, w := range q.waiters {
		if w == wake {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
	if len(q.items) > 0 {
		q.wakeOneLocked()
	}
}
