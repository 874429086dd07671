package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(step)
}

func TestInsertNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		capacity int
		inserts  int
	}{
		{name: "below capacity", capacity: 6, inserts: 4},
		{name: "exactly capacity", capacity: 6, inserts: 6},
		{name: "twice capacity", capacity: 6, inserts: 12},
		{name: "capacity one", capacity: 1, inserts: 9},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			cache := New[string, int](WithCapacity(testCase.capacity), WithClock(clock.Now))
			for index := 0; index < testCase.inserts; index++ {
				clock.Advance(time.Second)
				cache.Insert(fmt.Sprintf("k-%d", index), index)
				if cache.Len() > testCase.capacity {
					t.Fatalf("len = %d after insert %d, want <= %d", cache.Len(), index, testCase.capacity)
				}
			}

			wantLen := testCase.inserts
			if wantLen > testCase.capacity {
				wantLen = testCase.capacity
			}
			if cache.Len() != wantLen {
				t.Fatalf("len = %d, want %d", cache.Len(), wantLen)
			}
		})
	}
}

func TestEvictionRemovesLowestLastActive(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := New[string, int](WithCapacity(3), WithClock(clock.Now))

	for _, key := range []string{"a", "b", "c"} {
		clock.Advance(time.Second)
		cache.Insert(key, 0)
	}

	clock.Advance(time.Second)
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("Get(a) = miss, want hit")
	}

	clock.Advance(time.Second)
	cache.Insert("d", 0)
	clock.Advance(time.Second)
	cache.Insert("e", 0)

	for _, key := range []string{"b", "c"} {
		if cache.Contains(key) {
			t.Fatalf("Contains(%s) = true, want evicted", key)
		}
	}
	for _, key := range []string{"a", "d", "e"} {
		if !cache.Contains(key) {
			t.Fatalf("Contains(%s) = false, want retained", key)
		}
	}
	if stats := cache.Stats(); stats.Evictions != 2 {
		t.Fatalf("evictions = %d, want 2", stats.Evictions)
	}
}

func TestEvictionBreaksTiesByInsertionOrder(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := New[int, string](WithCapacity(2), WithClock(clock.Now))

	cache.Insert(1, "first")
	cache.Insert(2, "second")
	cache.Insert(3, "third")

	if cache.Contains(1) {
		t.Fatal("oldest insertion should be evicted on a lastActive tie")
	}
	if !cache.Contains(2) || !cache.Contains(3) {
		t.Fatal("newer insertions should be retained")
	}
}

func TestGetOrFetchCollapsesConcurrentFetches(t *testing.T) {
	t.Parallel()

	cache := New[string, string](WithCapacity(4))
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "profile", nil
	}

	const callers = 8
	results := make(chan string, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for index := 0; index < callers; index++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			value, err := cache.GetOrFetch(context.Background(), "u-1", fetcher)
			if err != nil {
				errs <- err
				return
			}
			results <- value
		}()
	}

	<-started
	close(release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	count := 0
	for value := range results {
		count++
		if value != "profile" {
			t.Fatalf("value = %q, want profile", value)
		}
	}
	if count != callers {
		t.Fatalf("results = %d, want %d", count, callers)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("fetcher calls = %d, want 1", got)
	}
}

func TestGetOrFetchFailureCachesNothing(t *testing.T) {
	t.Parallel()

	cache := New[string, int](WithCapacity(2))
	fetchErr := errors.New("backend down")

	_, err := cache.GetOrFetch(context.Background(), "k", func(context.Context) (int, error) {
		return 0, fetchErr
	})
	if !errors.Is(err, fetchErr) {
		t.Fatalf("GetOrFetch error = %v, want %v", err, fetchErr)
	}
	if cache.Contains("k") {
		t.Fatal("failed fetch should not populate the cache")
	}

	value, err := cache.GetOrFetch(context.Background(), "k", func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("GetOrFetch retry failed: %v", err)
	}
	if value != 42 {
		t.Fatalf("value = %d, want 42", value)
	}

	value, err = cache.GetOrFetch(context.Background(), "k", func(context.Context) (int, error) {
		return 0, errors.New("should not be called")
	})
	if err != nil || value != 42 {
		t.Fatalf("cached GetOrFetch = (%d, %v), want (42, nil)", value, err)
	}
}

func TestGetOrFetchWaiterHonoursContext(t *testing.T) {
	t.Parallel()

	cache := New[string, int](WithCapacity(2))
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = cache.GetOrFetch(context.Background(), "k", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cache.GetOrFetch(ctx, "k", func(context.Context) (int, error) {
		return 2, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("GetOrFetch error = %v, want context.Canceled", err)
	}

	close(release)
	<-done
	if value, ok := cache.Get("k"); !ok || value != 1 {
		t.Fatalf("Get = (%d, %v), want (1, true)", value, ok)
	}
}

func TestGetOrFetchDropsResultInvalidatedMidFetch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		invalidate func(cache *BoundedCache[string, string])
		wantCached bool
	}{
		{
			name:       "delete same key",
			invalidate: func(cache *BoundedCache[string, string]) { cache.Delete("thread-1") },
		},
		{
			name:       "purge",
			invalidate: func(cache *BoundedCache[string, string]) { cache.Purge() },
		},
		{
			name:       "delete other key",
			invalidate: func(cache *BoundedCache[string, string]) { cache.Delete("thread-2") },
			wantCached: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cache := New[string, string](WithCapacity(4))
			started := make(chan struct{})
			release := make(chan struct{})
			done := make(chan error, 1)
			go func() {
				value, err := cache.GetOrFetch(context.Background(), "thread-1", func(context.Context) (string, error) {
					close(started)
					<-release
					return "stale comments", nil
				})
				if err == nil && value != "stale comments" {
					err = errors.New("unexpected value " + value)
				}
				done <- err
			}()

			<-started
			testCase.invalidate(cache)
			close(release)
			if err := <-done; err != nil {
				t.Fatalf("GetOrFetch failed: %v", err)
			}

			if got := cache.Contains("thread-1"); got != testCase.wantCached {
				t.Fatalf("cached after invalidation = %v, want %v", got, testCase.wantCached)
			}

			value, err := cache.GetOrFetch(context.Background(), "thread-1", func(context.Context) (string, error) {
				return "fresh comments", nil
			})
			if err != nil {
				t.Fatalf("GetOrFetch after invalidation failed: %v", err)
			}
			want := "fresh comments"
			if testCase.wantCached {
				want = "stale comments"
			}
			if value != want {
				t.Fatalf("value = %q, want %q", value, want)
			}
		})
	}
}

func TestSweepExpiresIdleEntries(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := New[string, int](WithCapacity(5), WithClock(clock.Now), WithMaxIdle(time.Minute))

	cache.Insert("stale", 1)
	clock.Advance(45 * time.Second)
	cache.Insert("fresh", 2)
	clock.Advance(30 * time.Second)

	if removed := cache.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed = %d, want 1", removed)
	}
	if cache.Contains("stale") || !cache.Contains("fresh") {
		t.Fatal("sweep should remove only the idle entry")
	}
}

func TestDeleteAndPurge(t *testing.T) {
	t.Parallel()

	cache := New[string, int](WithCapacity(5))
	cache.Insert("a", 1)
	cache.Insert("b", 2)
	cache.Insert("c", 3)

	if !cache.Delete("a") {
		t.Fatal("Delete(a) = false, want true")
	}
	if cache.Delete("a") {
		t.Fatal("second Delete(a) = true, want false")
	}
	if removed := cache.Purge(); removed != 2 {
		t.Fatalf("Purge removed = %d, want 2", removed)
	}
	if cache.Len() != 0 {
		t.Fatalf("len = %d, want 0", cache.Len())
	}
}

func TestStartAndCloseSweeper(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := New[string, int](
		WithCapacity(4),
		WithClock(clock.Now),
		WithMaxIdle(time.Nanosecond),
		WithSweepInterval(5*time.Millisecond),
	)
	cache.Insert("a", 1)
	clock.Advance(time.Second)

	cache.Start(context.Background())
	cache.Start(context.Background())
	defer cache.Close()

	deadline := time.Now().Add(2 * time.Second)
	for cache.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for background sweep")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cache.Close()
	cache.Close()
}
