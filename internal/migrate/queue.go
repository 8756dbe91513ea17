package migrate

import "sync"

// DeliveryQueue is a bounded FIFO of pending deliveries.
//
// Capacity is enforced by dropping the oldest entry — an explicit
// back-pressure policy for a source that can outpace the governed delivery
// rate indefinitely. Entries dequeue in enqueue order.
//
// Thread-safety covers external enqueuing (the gateway handler goroutine)
// while a single delivery worker dequeues. The signal channel enables
// context-aware waiting in the worker loop (buffered, size 1, so multiple
// enqueues coalesce).
type DeliveryQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	dropped  int
	closed   bool
	signal   chan struct{}
}

// NewDeliveryQueue creates an empty queue holding at most capacity entries.
func NewDeliveryQueue[T any](capacity int) *DeliveryQueue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &DeliveryQueue[T]{
		items:    make([]T, 0, min(capacity, 64)),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends an entry, evicting the oldest when full. Returns false if
// the queue is closed.
func (q *DeliveryQueue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if len(q.items) >= q.capacity {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, item)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the oldest entry without blocking.
func (q *DeliveryQueue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	// Zero the slot so the backing array does not pin the entry.
	q.items[0] = zero
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return item, true
}

// Wait returns a channel that signals when entries may be available. Use in
// a select alongside ctx.Done().
func (q *DeliveryQueue[T]) Wait() <-chan struct{} {
	return q.signal
}

// Len reports the number of queued entries.
func (q *DeliveryQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped reports how many entries were evicted by the capacity bound.
func (q *DeliveryQueue[T]) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Snapshot copies the queued entries, oldest first, for checkpointing.
func (q *DeliveryQueue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Closed reports whether Close has run. Queued entries remain dequeuable.
func (q *DeliveryQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further enqueues and wakes any waiter.
func (q *DeliveryQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
