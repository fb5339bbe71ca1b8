// Package cache is a process-local TTL cache used to serve repeated reads
// (dashboards, budget lists) without hitting the database. Keys follow
// "user:<id>:<resource>:<detail>" so writes can drop a user's resource with
// one pattern.
package cache

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Size      int     `json:"size"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

type Cache struct {
	mu         sync.Mutex
	items      map[string]entry
	defaultTTL time.Duration
	hits       uint64
	misses     uint64
	evictions  uint64

	// gen changes on every invalidation; a load that started before the
	// change must not store its possibly stale result.
	gen      uint64
	inflight map[string]struct{}
	group    singleflight.Group

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// New creates a cache. A positive cleanupInterval starts a janitor that
// drops expired entries; call Close to stop it.
func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	c := &Cache{
		items:      make(map[string]entry),
		inflight:   make(map[string]struct{}),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	}
	return c
}

func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value for ttl; ttl <= 0 means the default TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.items[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Get returns the value if present and not expired. Expired entries are
// removed and counted as misses.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		c.evictions++
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// GetOrLoad returns the cached value or runs load once for all concurrent
// callers of the same key. Errors are returned to every waiter and are not
// cached.
func (c *Cache) GetOrLoad(key string, ttl time.Duration, load func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.Lock()
		gen := c.gen
		c.inflight[key] = struct{}{}
		c.mu.Unlock()

		v, err := load()

		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.inflight, key)
		if err != nil {
			return nil, err
		}
		if gen == c.gen {
			if ttl <= 0 {
				ttl = c.defaultTTL
			}
			c.items[key] = entry{value: v, expiresAt: c.now().Add(ttl)}
		}
		return v, nil
	})
	return v, err
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.gen++
	c.mu.Unlock()
	c.group.Forget(key)
}

// InvalidatePattern removes every key matching a glob where '*' matches any
// run of characters and '?' exactly one. It returns how many were removed.
func (c *Cache) InvalidatePattern(pattern string) int {
	re := compilePattern(pattern)

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.items {
		if re.MatchString(key) {
			delete(c.items, key)
			removed++
		}
	}
	c.gen++
	// Callers arriving after the write start a fresh load instead of
	// joining one that may have read old data.
	for key := range c.inflight {
		if re.MatchString(key) {
			c.group.Forget(key)
		}
	}
	return removed
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]entry)
	c.gen++
	for key := range c.inflight {
		c.group.Forget(key)
	}
	c.mu.Unlock()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      len(c.items),
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Close stops the janitor. The cache stays usable.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) removeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	c.evictions += uint64(removed)
	return removed
}

func compilePattern(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
