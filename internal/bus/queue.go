package bus

import (
	"context"
	"sync"
	"time"

	"github.com/basket/graphrun/internal/storeerr"
)

// Message is one entry on a run's queue.
type Message struct {
	Topic string
	Data  any
}

// Queue is a per-run FIFO of messages. Push appends and wakes all current
// waiters; Get dequeues the next message or fails with a Timeout or
// Cancelled error. Waiters never register themselves on the queue, so there
// is nothing to deregister on timeout/cancel — avoiding the leak the
// callback-based version of this primitive has to guard against.
type Queue struct {
	mu     sync.Mutex
	items  []Message
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{})}
}

// Push appends msg and wakes anyone currently blocked in Get.
func (q *Queue) Push(msg Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	wake := q.notify
	q.notify = make(chan struct{})
	q.mu.Unlock()
	close(wake)
}

// Get returns the next message, blocking until one is available, the
// context is done, cancel fires, or timeout elapses (timeout <= 0 means no
// timeout).
func (q *Queue) Get(ctx context.Context, cancel <-chan struct{}, timeout time.Duration) (Message, error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return m, nil
		}
		wake := q.notify
		q.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-ctx.Done():
			return Message{}, storeerr.NewCancelled("context cancelled while waiting on queue")
		case <-cancel:
			return Message{}, storeerr.NewCancelled("cancel token fired while waiting on queue")
		case <-timeoutC:
			return Message{}, storeerr.NewTimeout("queue get timed out")
		}
	}
}

// Len returns the number of buffered, undelivered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
