// Package ratelimit implements a sliding-window log limiter over a pluggable store.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/trustgate/internal/domain/types"
	"github.com/okian/trustgate/pkg/logger"
	"github.com/okian/trustgate/pkg/metrics"
)

const defaultPrefix = "ratelimit:"

// Window is the state of one key right after an attempt was recorded.
type Window struct {
	Count  int64     // attempts inside the window, this one included
	Oldest time.Time // earliest attempt still inside the window
}

// Store records attempts. Hit must atomically drop attempts at or before
// now-window, record now, and report the remaining attempts; two concurrent
// hits on one key must never both observe the pre-increment count.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error)
}

// Decision is the outcome of one attempt. Remaining is always in [0, Limit].
type Decision struct {
	Success   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded is set when a permissive posture allowed the attempt without
	// consulting the store.
	Degraded bool
}

// RetryAfter is the whole seconds until ResetAt, at least one.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Option applies a configuration option to the Limiter.
type Option func(*Limiter)

// WithPrefix sets the key prefix shared by every policy.
func WithPrefix(prefix string) Option {
	return func(l *Limiter) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used for degraded decisions.
func WithLogger(log logger.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// Limiter checks and consumes quota for (policy, identifier) pairs.
type Limiter struct {
	store   Store
	posture types.Posture
	prefix  string
	now     func() time.Time
	log     logger.Logger
}

// New creates a limiter. A nil store is allowed and is handled per posture
// on every call.
func New(store Store, posture types.Posture, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		posture: posture,
		prefix:  defaultPrefix,
		now:     time.Now,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the store key for a policy and identifier.
func (l *Limiter) Key(policy Policy, identifier string) string {
	return l.prefix + policy.Name + ":" + identifier
}

// CheckAndConsume records one attempt and reports whether it is within quota.
// Attempts over quota are still recorded. In a strict posture store failures
// return ErrStoreUnavailable and a missing store returns ErrNotConfigured; in
// a permissive posture both allow the attempt and log a warning.
func (l *Limiter) CheckAndConsume(ctx context.Context, identifier string, policy Policy) (Decision, error) {
	const op = "ratelimit.CheckAndConsume"

	if err := policy.Validate(); err != nil {
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}
	now := l.now()

	if l.store == nil {
		if l.posture == types.Strict {
			return l.denied(policy, now), fmt.Errorf("%s: %w", op, ErrNotConfigured)
		}
		l.log.Warn(ctx, "no rate limit store configured; allowing attempt",
			logger.String("policy", policy.Name), logger.String("posture", l.posture.String()))
		return l.degraded(policy, now), nil
	}

	w, err := l.store.Hit(ctx, l.Key(policy, identifier), now, policy.Window)
	if err != nil {
		metrics.RecordRateLimitStoreError(policy.Name, l.posture.String())
		if l.posture == types.Strict {
			l.log.Error(ctx, "rate limit store failed; rejecting attempt",
				logger.String("policy", policy.Name), logger.Error(err))
			return l.denied(policy, now), fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
		}
		l.log.Warn(ctx, "rate limit store failed; allowing attempt",
			logger.String("policy", policy.Name), logger.String("posture", l.posture.String()), logger.Error(err))
		return l.degraded(policy, now), nil
	}

	oldest := w.Oldest
	if oldest.IsZero() || oldest.After(now) {
		oldest = now
	}
	d := Decision{
		Success:   w.Count <= int64(policy.MaxRequests),
		Limit:     policy.MaxRequests,
		Remaining: int(max(0, int64(policy.MaxRequests)-w.Count)),
		ResetAt:   oldest.Add(policy.Window),
	}
	metrics.RecordRateLimitDecision(policy.Name, d.Success)
	return d, nil
}

func (l *Limiter) denied(policy Policy, now time.Time) Decision {
	return Decision{Limit: policy.MaxRequests, ResetAt: now.Add(policy.Window)}
}

func (l *Limiter) degraded(policy Policy, now time.Time) Decision {
	return Decision{
		Success:   true,
		Limit:     policy.MaxRequests,
		Remaining: policy.MaxRequests - 1,
		ResetAt:   now.Add(policy.Window),
		Degraded:  true,
	}
}
