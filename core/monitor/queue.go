package monitor

import (
	"context"
	"sync"
)

// Candidate is an origin transaction that may carry lock events.
type Candidate struct {
	Signature string
	Slot      uint64
	Source    string
}

// Candidate sources.
const (
	SourceSubscription = "subscription"
	SourcePoll         = "poll"
	SourceSweep        = "sweep"
	SourceManual       = "manual"
)

// Queue is an unbounded FIFO with a non-blocking Push, so producers never
// wait on a slow mint. A signature already waiting is not queued twice.
type Queue struct {
	mu      sync.Mutex
	items   []Candidate
	waiting map[string]struct{}
	ready   chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		waiting: map[string]struct{}{},
		ready:   make(chan struct{}, 1),
	}
}

// Push enqueues c and reports whether it was added.
func (q *Queue) Push(c Candidate) bool {
	q.mu.Lock()
	if _, ok := q.waiting[c.Signature]; ok {
		q.mu.Unlock()
		return false
	}
	q.waiting[c.Signature] = struct{}{}
	q.items = append(q.items, c)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop blocks until a candidate is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Candidate, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			c := q.items[0]
			q.items[0] = Candidate{}
			q.items = q.items[1:]
			delete(q.waiting, c.Signature)
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return c, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Candidate{}, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
