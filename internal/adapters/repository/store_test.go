package repository

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/okian/trustgate/internal/domain/ratelimit"
)

var t0 = time.UnixMilli(1_700_000_000_000)

// storeFactories returns every backend under test.
func storeFactories(t *testing.T) map[string]ratelimit.Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sqliteStore, err := OpenSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]ratelimit.Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client),
		"sqlite": sqliteStore,
	}
}

func TestStore_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			window := time.Hour

			for i := 1; i <= 3; i++ {
				w, err := store.Hit(ctx, "k", t0.Add(time.Duration(i)*time.Minute), window)
				if err != nil {
					t.Fatalf("hit %d: %v", i, err)
				}
				if w.Count != int64(i) {
					t.Errorf("hit %d: expected count %d, got %d", i, i, w.Count)
				}
				if !w.Oldest.Equal(t0.Add(time.Minute)) {
					t.Errorf("hit %d: expected oldest %v, got %v", i, t0.Add(time.Minute), w.Oldest)
				}
			}

			// The first hit sits exactly on the cutoff and is expired.
			w, err := store.Hit(ctx, "k", t0.Add(time.Minute+window), window)
			if err != nil {
				t.Fatalf("aged hit: %v", err)
			}
			if w.Count != 3 {
				t.Errorf("expected the first attempt to age out, got count %d", w.Count)
			}
			if !w.Oldest.Equal(t0.Add(2 * time.Minute)) {
				t.Errorf("expected oldest to advance, got %v", w.Oldest)
			}

			// Far in the future everything has expired.
			w, err = store.Hit(ctx, "k", t0.Add(10*window), window)
			if err != nil {
				t.Fatalf("late hit: %v", err)
			}
			if w.Count != 1 {
				t.Errorf("expected a fresh window, got count %d", w.Count)
			}
		})
	}
}

func TestStore_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				if _, err := store.Hit(ctx, "a", t0, time.Minute); err != nil {
					t.Fatal(err)
				}
			}
			w, err := store.Hit(ctx, "b", t0, time.Minute)
			if err != nil {
				t.Fatal(err)
			}
			if w.Count != 1 {
				t.Errorf("expected key b to be untouched by key a, got %d", w.Count)
			}
		})
	}
}

func TestStore_ConcurrentHitsAreAtomic(t *testing.T) {
	ctx := context.Background()
	const n = 40
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			counts := make([]int, 0, n)
			var mu sync.Mutex
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					w, err := store.Hit(ctx, "hot", t0, time.Hour)
					if err != nil {
						t.Errorf("hit: %v", err)
						return
					}
					mu.Lock()
					counts = append(counts, int(w.Count))
					mu.Unlock()
				}()
			}
			wg.Wait()

			sort.Ints(counts)
			for i, c := range counts {
				if c != i+1 {
					t.Fatalf("expected every hit to see a distinct count, got %v", counts)
				}
			}
		})
	}
}

func TestStore_RejectsEmptyKey(t *testing.T) {
	for name, store := range storeFactories(t) {
		if _, err := store.Hit(context.Background(), "", t0, time.Minute); err != ErrInvalidKey {
			t.Errorf("%s: expected ErrInvalidKey, got %v", name, err)
		}
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer func() { _ = client.Close() }()
	store := NewRedisStore(client)

	mr.Close()
	if _, err := store.Hit(context.Background(), "k", t0, time.Minute); err == nil {
		t.Fatal("expected an error from a closed server")
	}
}

func TestRedisStore_SetsExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	if _, err := NewRedisStore(client).Hit(context.Background(), "ratelimit:contact:1.2.3.4", t0, time.Hour); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("ratelimit:contact:1.2.3.4"); ttl != time.Hour {
		t.Errorf("expected key TTL of one hour, got %v", ttl)
	}
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = client.Close()

	if _, err := NewRedisClient(context.Background(), RedisConfig{}); err == nil {
		t.Error("expected an error for an empty address")
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithCleanupEvery(10 * time.Millisecond))

	if _, err := store.Hit(ctx, "short", t0, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Hit(ctx, "long", t0, time.Hour); err != nil {
		t.Fatal(err)
	}

	store.Cleanup(t0.Add(2 * time.Minute))
	if got := store.Len(); got != 1 {
		t.Errorf("expected only the long-window key to survive, got %d keys", got)
	}

	cctx, cancel := context.WithCancel(ctx)
	store.StartJanitor(cctx)
	cancel()
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryStore().Hit(ctx, "k", t0, time.Minute); err == nil {
		t.Error("expected an error for a cancelled context")
	}
}

func TestSQLiteStore_Purge(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLiteStore(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.Hit(ctx, key, t0, time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	n, err := store.Purge(ctx, t0.Add(time.Hour), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 purged rows, got %d", n)
	}
}

func TestStore_OutOfOrderHits(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			key := "late:" + name
			if _, err := store.Hit(ctx, key, t0.Add(2*time.Second), time.Minute); err != nil {
				t.Fatal(err)
			}
			w, err := store.Hit(ctx, key, t0.Add(time.Second), time.Minute)
			if err != nil {
				t.Fatal(err)
			}
			if w.Count != 2 || !w.Oldest.Equal(t0.Add(time.Second)) {
				t.Fatalf("expected 2 hits with the earlier one oldest, got %d oldest %v", w.Count, w.Oldest)
			}

			// The cutoff falls between the two earlier hits.
			w, err = store.Hit(ctx, key, t0.Add(61500*time.Millisecond), time.Minute)
			if err != nil {
				t.Fatal(err)
			}
			if w.Count != 2 || !w.Oldest.Equal(t0.Add(2*time.Second)) {
				t.Errorf("expected the 1s hit aged out, got %d oldest %v", w.Count, w.Oldest)
			}
		})
	}
}
