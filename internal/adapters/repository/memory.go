// Package repository provides the sliding-window stores behind the rate limiter.
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/trustgate/internal/domain/ratelimit"
)

const defaultCleanupEvery = 2 * time.Minute

// MemoryOption applies a configuration option to the MemoryStore.
type MemoryOption func(*MemoryStore)

// WithCleanupEvery sets how often the janitor drops idle keys.
func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

// MemoryStore keeps attempt logs in process memory. Counts are not shared
// between instances; use it for tests and single-process development.
type MemoryStore struct {
	mu           sync.Mutex
	entries      map[string]*memoryEntry
	cleanupEvery time.Duration
}

type memoryEntry struct {
	hits   []time.Time // ascending
	window time.Duration
}

var _ ratelimit.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:      make(map[string]*memoryEntry),
		cleanupEvery: defaultCleanupEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hit implements ratelimit.Store.
func (s *MemoryStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (ratelimit.Window, error) {
	if err := ctx.Err(); err != nil {
		return ratelimit.Window{}, fmt.Errorf("memory hit: %w", err)
	}
	if key == "" {
		return ratelimit.Window{}, ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		ent = &memoryEntry{}
		s.entries[key] = ent
	}
	ent.window = window
	ent.hits = insertSorted(prune(ent.hits, now.Add(-window)), now)

	return ratelimit.Window{Count: int64(len(ent.hits)), Oldest: ent.hits[0]}, nil
}

// insertSorted adds at to the ascending hits. Callers read the clock before
// taking the lock, so at may be older than the newest recorded hit.
func insertSorted(hits []time.Time, at time.Time) []time.Time {
	i := sort.Search(len(hits), func(i int) bool { return hits[i].After(at) })
	hits = append(hits, time.Time{})
	copy(hits[i+1:], hits[i:])
	hits[i] = at
	return hits
}

// prune drops hits at or before cutoff. hits must be ascending.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup drops keys whose every attempt has aged out as of now.
func (s *MemoryStore) Cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		ent.hits = prune(ent.hits, now.Add(-ent.window))
		if len(ent.hits) == 0 {
			delete(s.entries, k)
		}
	}
}

// StartJanitor starts a goroutine that cleans idle keys until ctx is done.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.Cleanup(now)
			}
		}
	}()
}
