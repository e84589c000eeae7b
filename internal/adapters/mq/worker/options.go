package worker

import (
	"time"

	"github.com/okian/trustgate/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRetry sets how many extra delivery attempts a lead gets and the pause
// between them.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(w *InMemoryWorker) {
		if attempts >= 0 {
			w.retries = attempts
		}
		if backoff > 0 {
			w.backoff = backoff
		}
	}
}
