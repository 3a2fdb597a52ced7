package webhooks

import (
	"context"
	"sync"
)

// Queue is the FIFO of pending delivery attempts
type Queue interface {
	Enqueue(ctx context.Context, attempt *DeliveryAttempt) error
	// Dequeue removes and returns up to n attempts from the front
	Dequeue(ctx context.Context, n int) ([]*DeliveryAttempt, error)
	Len(ctx context.Context) (int, error)
	// Clear discards every pending attempt
	Clear(ctx context.Context) error
}

// MemoryQueue is an in-process Queue
type MemoryQueue struct {
	mu    sync.Mutex
	items []*DeliveryAttempt
}

// NewMemoryQueue creates an empty queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, attempt *DeliveryAttempt) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, attempt)
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, n int) ([]*DeliveryAttempt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.items) == 0 {
		return nil, nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}

	batch := make([]*DeliveryAttempt, n)
	copy(batch, q.items[:n])

	// The backing array must not retain drained attempts
	remaining := copy(q.items, q.items[n:])
	for i := remaining; i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = q.items[:remaining]

	return batch, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *MemoryQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	return nil
}

// Snapshot returns the queued attempts without removing them
func (q *MemoryQueue) Snapshot() []*DeliveryAttempt {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*DeliveryAttempt(nil), q.items...)
}
