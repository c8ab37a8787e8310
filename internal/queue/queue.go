package queue

import (
	"sync"
)

// Queue is a generic thread-safe queue that signals consumers when items
// arrive.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

// New creates a new empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
		ready: make(chan struct{}, 1),
	}
}

// Push appends items to the queue and wakes a waiting consumer.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready receives a value after one or more Push calls. Several pushes may
// collapse into a single signal.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// TakeLatest returns the most recently pushed item, discards the rest and
// reports how many older items were skipped.
func (q *Queue[T]) TakeLatest() (item T, skipped int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item, 0, false
	}
	item = q.items[len(q.items)-1]
	skipped = len(q.items) - 1
	clear(q.items)
	q.items = q.items[:0]
	return item, skipped, true
}
