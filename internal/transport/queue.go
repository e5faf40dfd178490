package transport

import (
	"context"
	"sync"
)

// deliveryQueue is an unbounded FIFO between the receive loop and consumers.
type deliveryQueue struct {
	mu    sync.Mutex
	items []Delivery
	ready chan struct{}
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{ready: make(chan struct{}, 1)}
}

func (q *deliveryQueue) push(d Delivery) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	q.signal()
}

func (q *deliveryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available, ctx is done or done is closed.
// Queued items are still handed out after done is closed.
func (q *deliveryQueue) pop(ctx context.Context, done <-chan struct{}) (Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			d := q.items[0]
			q.items[0] = Delivery{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return d, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-done:
			return Delivery{}, ErrClosed
		}
	}
}

func (q *deliveryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *deliveryQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
