package infra

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestNewCache_DefaultMaxEntries(t *testing.T) {
	for _, n := range []int{0, -1} {
		c := NewCache[string](n)
		if c.maxEntries != DefaultMaxCacheEntries {
			t.Errorf("NewCache(%d): maxEntries=%d, want %d", n, c.maxEntries, DefaultMaxCacheEntries)
		}
	}
}

func TestCache_SetAndGet(t *testing.T) {
	c := NewCache[string](100)
	c.Set("key1", "value1", 5*time.Minute)

	got, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected to find key1")
	}
	if got != "value1" {
		t.Errorf("expected 'value1', got %q", got)
	}
}

func TestCache_Get_NotFound(t *testing.T) {
	c := NewCache[int](100)
	got, ok := c.Get("nonexistent")
	if ok {
		t.Error("expected ok=false for nonexistent key")
	}
	if got != 0 {
		t.Errorf("expected zero value, got %d", got)
	}
}

func TestCache_Get_ExpiredLazily(t *testing.T) {
	clock := newFakeClock()
	c := NewCache[string](100, WithClock[string](clock.Now))

	c.Set("expiring", "value", 30*time.Minute)

	clock.Advance(29 * time.Minute)
	if _, ok := c.Get("expiring"); !ok {
		t.Fatal("expected entry before TTL")
	}

	clock.Advance(time.Minute)
	if _, ok := c.Get("expiring"); ok {
		t.Error("expected entry to expire at TTL")
	}
	if c.Size() != 0 {
		t.Errorf("expired entry should be dropped on read, size=%d", c.Size())
	}
}

func TestCache_Set_LastWriterWins(t *testing.T) {
	c := NewCache[string](100)
	c.Set("key", "first", time.Minute)
	c.Set("key", "second", time.Minute)

	got, _ := c.Get("key")
	if got != "second" {
		t.Errorf("expected 'second', got %q", got)
	}
	if c.Size() != 1 {
		t.Errorf("expected size 1, got %d", c.Size())
	}
}

func TestCache_Delete(t *testing.T) {
	c := NewCache[string](100)
	c.Set("key", "value", time.Minute)
	c.Delete("key")
	c.Delete("missing")

	if _, ok := c.Get("key"); ok {
		t.Error("expected key to be deleted")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	clock := newFakeClock()
	c := NewCache[int](10, WithClock[int](clock.Now))

	for i := range 10 {
		c.Set(fmt.Sprintf("key-%d", i), i, time.Hour)
		clock.Advance(time.Second)
	}

	// Touch key-0 so it becomes the most recently used.
	c.Get("key-0")
	clock.Advance(time.Second)

	c.Set("key-10", 10, time.Hour)

	if c.Size() > 10 {
		t.Errorf("cache exceeded limit: %d", c.Size())
	}
	if _, ok := c.Get("key-0"); !ok {
		t.Error("recently used key-0 should survive eviction")
	}
	if _, ok := c.Get("key-1"); ok {
		t.Error("least recently used key-1 should be evicted")
	}
}

func TestCache_EvictionPrefersExpired(t *testing.T) {
	clock := newFakeClock()
	c := NewCache[int](2, WithClock[int](clock.Now))

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	clock.Advance(2 * time.Second)
	c.Set("new", 3, time.Hour)

	if _, ok := c.Get("long"); !ok {
		t.Error("fresh entry should survive when an expired one can go")
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("new entry should be present")
	}
}

func TestCache_Stats(t *testing.T) {
	c := NewCache[string](10)
	c.Set("a", "1", time.Minute)
	c.Get("a")
	c.Get("a")
	c.Get("b")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Entries != 1 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestCache_ConcurrencySafety(t *testing.T) {
	c := NewCache[int](50)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := range 100 {
				key := fmt.Sprintf("key-%d", (n*100+j)%80)
				c.Set(key, j, time.Minute)
				c.Get(key)
				if j%10 == 0 {
					c.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()

	if c.Size() > 50 {
		t.Errorf("cache exceeded limit under concurrency: %d", c.Size())
	}
}
