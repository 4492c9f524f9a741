package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestCache_SetGet(t *testing.T) {
	c := New[string]()

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Errorf("expected 'v', got %q (found=%v)", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected missing key to be not found")
	}
}

func TestCache_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New[int](WithClock(clock.Now))

	for _, ttl := range []time.Duration{time.Millisecond, time.Second, time.Hour} {
		c.SetWithTTL("k", 42, ttl)
		if v, ok := c.Get("k"); !ok || v != 42 {
			t.Fatalf("ttl %v: expected immediate hit, got %d (found=%v)", ttl, v, ok)
		}

		clock.Advance(ttl)
		if _, ok := c.Get("k"); !ok {
			t.Fatalf("ttl %v: expected hit exactly at expiry", ttl)
		}

		clock.Advance(time.Nanosecond)
		if _, ok := c.Get("k"); ok {
			t.Fatalf("ttl %v: expected miss after expiry", ttl)
		}
	}
}

func TestCache_RealTimeExpiry(t *testing.T) {
	c := New[string]()
	c.SetWithTTL("k", "v", 20*time.Millisecond)

	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected immediate hit")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after ttl elapsed")
	}
}

func TestCache_DefaultTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := New[string](WithClock(clock.Now), WithDefaultTTL(time.Minute))

	c.Set("k", "v")
	c.SetWithTTL("z", "v", 0)

	clock.Advance(time.Minute + time.Second)
	if _, ok := c.Get("k"); ok {
		t.Error("expected default ttl to apply to Set")
	}
	if _, ok := c.Get("z"); ok {
		t.Error("expected default ttl to apply to non-positive ttl")
	}
}

func TestCache_SetReplacesEntry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := New[string](WithClock(clock.Now))

	c.SetWithTTL("k", "old", time.Second)
	c.SetWithTTL("k", "new", time.Hour)

	clock.Advance(time.Minute)
	got, ok := c.Get("k")
	if !ok || got != "new" {
		t.Errorf("expected replaced entry 'new' with fresh expiry, got %q (found=%v)", got, ok)
	}
}

func TestCache_DeleteClear(t *testing.T) {
	c := New[int]()
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected deleted key to be gone")
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected 0 entries after Clear, got %d", c.Len())
	}
}

func TestCache_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := New[int](WithClock(clock.Now))

	c.SetWithTTL("short", 1, time.Second)
	c.SetWithTTL("long", 2, time.Hour)
	clock.Advance(2 * time.Second)

	if removed := c.Sweep(); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", c.Len())
	}
}

func TestCache_BackgroundSweeper(t *testing.T) {
	c := New[int](WithSweepInterval(5 * time.Millisecond))
	c.SetWithTTL("k", 1, time.Millisecond)
	c.Start()
	c.Start()
	defer c.Close()

	deadline := time.Now().Add(time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected sweeper to remove the expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCache_CloseWithoutStart(t *testing.T) {
	c := New[int]()
	c.Close()
	c.Close()
	c.Start()

	c.Set("k", 1)
	if _, ok := c.Get("k"); !ok {
		t.Error("expected entries to stay readable after Close")
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%5))
			c.Set(key, i)
			c.Get(key)
			c.Sweep()
		}(i)
	}
	wg.Wait()

	if c.Len() != 5 {
		t.Errorf("expected 5 keys, got %d", c.Len())
	}
}
