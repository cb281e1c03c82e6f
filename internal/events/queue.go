package events

import (
	"context"
	"sync"

	"github.com/cuongbtq/flytwo-backend/internal/metrics"
)

// Queue is an unbounded FIFO of raw event payloads. Push never blocks, so the
// pub/sub receive loop cannot be stalled by a slow consumer.
type Queue struct {
	mu     sync.Mutex
	items  [][]byte
	signal chan struct{}
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

func (q *Queue) Push(item []byte) {
	q.mu.Lock()
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.EventQueueDepth.Set(float64(depth))
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop blocks until an item is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			depth := len(q.items)
			q.mu.Unlock()

			metrics.EventQueueDepth.Set(float64(depth))
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
