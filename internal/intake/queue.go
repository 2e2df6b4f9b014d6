package intake

import (
	"sync"

	"asset-intake/internal/domain/asset"
)

// Queue is a FIFO of captures awaiting an operator. Enqueue is safe from any
// number of goroutines; a single consumer dequeues.
type Queue struct {
	mu    sync.Mutex
	items []asset.PendingCapture
	ready chan struct{}
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

func (q *Queue) Enqueue(c asset.PendingCapture) int {
	q.mu.Lock()
	q.items = append(q.items, c)
	n := len(q.items)
	q.mu.Unlock()

	if n == 1 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return n
}

func (q *Queue) TryDequeue() (asset.PendingCapture, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return asset.PendingCapture{}, false
	}
	head := q.items[0]
	q.items[0] = asset.PendingCapture{}
	q.items = q.items[1:]
	return head, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every pending capture and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Ready fires after the queue goes from empty to non-empty.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
