// Package queue holds accepted leads until a dispatch worker delivers them.
package queue

import (
	"context"
	"sync"

	"github.com/okian/trustgate/internal/domain/model"
	"github.com/okian/trustgate/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a lead. It returns ErrFull or ErrClosed when the lead was not queued.
	Enqueue(ctx context.Context, l model.Lead) error

	// Dequeue returns a channel that yields leads until the queue is closed
	// and drained, or ctx is done.
	Dequeue(ctx context.Context) <-chan model.Lead

	// Len returns the current number of queued leads.
	Len() int

	// Close stops accepting leads. Queued leads remain available to Dequeue.
	Close() error
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	leads    chan model.Lead
	capacity int
	mu       sync.RWMutex
	closed   bool
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.leads = make(chan model.Lead, q.capacity)
	metrics.UpdateDispatchQueueSize(0)
	return q
}

// Enqueue adds a lead to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, l model.Lead) error { //nolint:gocritic // hugeParam: Lead is passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordDispatchError("queue_closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case q.leads <- l:
		metrics.UpdateDispatchQueueSize(len(q.leads))
		return nil
	default:
		metrics.RecordDispatchError("queue_full")
		return ErrFull
	}
}

// Dequeue returns a channel that receives leads as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan model.Lead {
	out := make(chan model.Lead)
	go func() {
		defer close(out)
		for {
			select {
			case l, ok := <-q.leads:
				if !ok {
					return
				}
				metrics.UpdateDispatchQueueSize(len(q.leads))
				select {
				case out <- l:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued leads.
func (q *InMemoryQueue) Len() int {
	return len(q.leads)
}

// Close stops accepting leads. It is safe to call more than once.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.leads)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
