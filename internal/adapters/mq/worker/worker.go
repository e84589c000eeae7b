// Package worker delivers accepted leads off the dispatch queue.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/trustgate/internal/domain/model"
	"github.com/okian/trustgate/pkg/logger"
	"github.com/okian/trustgate/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 4
	defaultRetries      = 2
	defaultBackoff      = 200 * time.Millisecond
	poolShutdownTimeout = 30 * time.Second
)

// Notifier hands a lead to whoever follows up on it.
type Notifier interface {
	Notify(ctx context.Context, lead model.Lead) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, lead model.Lead) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, lead model.Lead) error { //nolint:gocritic // hugeParam
	return f(ctx, lead)
}

// LogNotifier writes each lead to the log. It is the default when no
// downstream integration is configured.
type LogNotifier struct {
	Logger logger.Logger
}

// Notify logs the lead without its free-text message.
func (n LogNotifier) Notify(ctx context.Context, lead model.Lead) error { //nolint:gocritic // hugeParam
	log := n.Logger
	if log == nil {
		log = logger.Get().Named("notifier")
	}
	log.Info(ctx, "lead received",
		logger.String("lead_id", lead.ID),
		logger.String("endpoint", string(lead.Endpoint)),
		logger.String("name", lead.Name),
		logger.String("email", lead.Email),
		logger.Int("trust_score", lead.TrustScore),
	)
	return nil
}

// Queue defines how workers receive leads.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Lead
}

// Worker delivers leads using the provided interfaces.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue drains.
	Run(ctx context.Context)

	// Shutdown stops the worker after the lead in flight, if any.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for a single delivery loop.
type InMemoryWorker struct {
	queue    Queue
	notifier Notifier
	name     string
	retries  int
	backoff  time.Duration

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

var _ Worker = (*InMemoryWorker)(nil)

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, notifier Notifier, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		notifier: notifier,
		name:     "worker",
		retries:  defaultRetries,
		backoff:  defaultBackoff,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	leads := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case lead, ok := <-leads:
			if !ok {
				return
			}
			if err := w.deliver(ctx, lead); err != nil {
				w.logger.Error(ctx, "lead delivery failed",
					logger.String("lead_id", lead.ID), logger.Error(err))
			}
		}
	}
}

// Shutdown signals the loop to stop and waits for it.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) deliver(ctx context.Context, lead model.Lead) error { //nolint:gocritic // hugeParam: Lead is passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordStageLatency("dispatch", float64(time.Since(start).Milliseconds()))
	}()

	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.backoff):
			case <-ctx.Done():
				metrics.RecordDispatchError("cancelled")
				return ctx.Err()
			}
		}
		if err = w.notifier.Notify(ctx, lead); err == nil {
			metrics.RecordDispatchDelivered()
			return nil
		}
		w.logger.Warn(ctx, "notify attempt failed",
			logger.String("lead_id", lead.ID),
			logger.Int("attempt", attempt+1),
			logger.Error(err),
		)
	}
	metrics.RecordDispatchError("notify_failed")
	return fmt.Errorf("notify lead %s: %w", lead.ID, err)
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a new worker pool. Options are applied to every worker.
func NewPool(workerCount int, queue Queue, notifier Notifier, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(queue, notifier, workerOpts...)
	}
	return pool
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue, if it can be closed, and waits for workers to
// drain what is left.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
		}
	}
	return nil
}
