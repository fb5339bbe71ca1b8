package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
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

func newTestCache(ttl time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, 0)
	c.now = clock.Now
	return c, clock
}

func TestGetSet(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("user:1:budgets:2026-01", []int{1, 2})

	v, ok := c.Get("user:1:budgets:2026-01")
	if !ok {
		t.Fatal("expected hit")
	}
	if got := v.([]int); len(got) != 2 {
		t.Fatalf("value = %v", got)
	}
	if _, ok := c.Get("user:1:goals:all"); ok {
		t.Fatal("expected miss")
	}
}

func TestTTLExpiry(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Set("a", 1)
	c.SetWithTTL("b", 2, 10*time.Second)

	clock.Advance(9 * time.Second)
	if _, ok := c.Get("b"); !ok {
		t.Fatal("b expired too early")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get("b"); ok {
		t.Fatal("b should expire exactly at its TTL")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should still be cached")
	}

	clock.Advance(time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatal("a should have expired")
	}
	if s := c.Stats(); s.Size != 0 || s.Evictions != 2 {
		t.Fatalf("stats after expiry = %+v", s)
	}
}

func TestInvalidatePattern(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("user:1:transactions:page=1", 1)
	c.Set("user:1:transactions:page=2&category=food/drinks", 2)
	c.Set("user:1:dashboard:2026-01", 3)
	c.Set("user:12:transactions:page=1", 4)
	c.Set("user:2:transactions:page=1", 5)

	if n := c.InvalidatePattern("user:1:transactions:*"); n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	if _, ok := c.Get("user:12:transactions:page=1"); !ok {
		t.Fatal("user 12 must not match user:1:*")
	}
	if _, ok := c.Get("user:1:dashboard:2026-01"); !ok {
		t.Fatal("dashboard should survive a transactions invalidation")
	}

	if n := c.InvalidatePattern("user:?:*"); n != 2 {
		t.Fatalf("single-char wildcard removed %d, want 2", n)
	}
	if n := c.InvalidatePattern("user:1:dashboard:2026-01"); n != 0 {
		t.Fatalf("already removed key matched again: %d", n)
	}
	if s := c.Stats(); s.Size != 1 {
		t.Fatalf("size = %d, want 1", s.Size)
	}
}

func TestPatternIsLiteralExceptWildcards(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("a.b", 1)
	c.Set("axb", 2)
	if n := c.InvalidatePattern("a.b"); n != 1 {
		t.Fatalf("'.' must match literally, removed %d", n)
	}
}

func TestStats(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("k", "v")
	c.Get("k")
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	s := c.Stats()
	if s.Hits != 3 || s.Misses != 1 || s.Size != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if s.HitRate != 0.75 {
		t.Fatalf("hit rate = %v, want 0.75", s.HitRate)
	}

	if empty := New(time.Minute, 0).Stats(); empty.HitRate != 0 {
		t.Fatalf("empty cache hit rate = %v", empty.HitRate)
	}
}

func TestGetOrLoadDeduplicates(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	var calls int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]interface{}, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad("user:1:dashboard:2026-01", 0, func() (interface{}, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return "summary", nil
			})
			if err != nil {
				t.Error(err)
			}
			results[i] = v
		}(i)
	}

	// Give every goroutine time to join the in-flight load.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("loader ran %d times, want 1", calls)
	}
	for _, v := range results {
		if v != "summary" {
			t.Fatalf("result = %v", v)
		}
	}
	if _, ok := c.Get("user:1:dashboard:2026-01"); !ok {
		t.Fatal("loaded value should be cached")
	}
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	boom := errors.New("db down")

	if _, err := c.GetOrLoad("k", 0, func() (interface{}, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	v, err := c.GetOrLoad("k", 0, func() (interface{}, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("second load = %v, %v", v, err)
	}
}

func TestInvalidationDuringLoadDropsStaleResult(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		c.GetOrLoad("user:1:budgets:x", 0, func() (interface{}, error) {
			close(started)
			<-release
			return "stale", nil
		})
	}()

	<-started
	c.InvalidatePattern("user:1:budgets:*")
	close(release)
	<-done

	if _, ok := c.Get("user:1:budgets:x"); ok {
		t.Fatal("a load that raced an invalidation must not be cached")
	}
}

func TestJanitorRemovesExpired(t *testing.T) {
	c := New(10*time.Millisecond, 5*time.Millisecond)
	defer c.Close()
	c.Set("k", 1)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Stats().Size == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("janitor did not remove the expired entry")
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("deleted key still present")
	}
	c.Clear()
	if c.Stats().Size != 0 {
		t.Fatal("Clear left entries behind")
	}
}
