package commit

import "time"

// pending is a submission accepted by the coordinator and not yet released
type pending struct {
	Submission
	enqueuedAt time.Time
	emittedAt  time.Time
	done       chan error // buffered(1), written exactly once
}

// release fulfils the completion signal. Callers guarantee it runs once per submission.
func (p *pending) release(err error) {
	p.done <- err
}

// queue is a FIFO of pending submissions owned by the coordinator loop
type queue struct {
	items []*pending
}

func newQueue() *queue {
	return &queue{
		items: make([]*pending, 0),
	}
}

// Enqueue appends p to the back of the queue
func (q *queue) Enqueue(p *pending) {
	q.items = append(q.items, p)
}

// Dequeue removes and returns the oldest submission, or nil when empty
func (q *queue) Dequeue() *pending {
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return p
}

// Count returns the number of queued submissions
func (q *queue) Count() int {
	return len(q.items)
}
