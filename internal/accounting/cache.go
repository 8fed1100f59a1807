package accounting

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedupdrive_stats_cache_hits_total",
		Help: "Storage statistics served from cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedupdrive_stats_cache_misses_total",
		Help: "Storage statistics recomputed from the catalog.",
	})
)

// Cache keeps recently computed Stats per scope key. A nil *Cache is valid
// and caches nothing.
//
// Every Invalidate starts a new generation. Callers read Generation before
// taking their snapshot and pass it to Set, so totals computed before a
// mutation never land in the cache after that mutation invalidated it.
type Cache struct {
	mu  sync.Mutex
	gen uint64
	lru *expirable.LRU[string, Stats]
}

// NewCache returns a cache holding up to size scopes for ttl. A zero ttl or
// size disables caching and yields nil.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &Cache{lru: expirable.NewLRU[string, Stats](size, nil, ttl)}
}

func (c *Cache) Get(key string) (Stats, bool) {
	if c == nil {
		return Stats{}, false
	}
	stats, ok := c.lru.Get(key)
	if ok {
		cacheHitsTotal.Inc()
	} else {
		cacheMissesTotal.Inc()
	}
	return stats, ok
}

// Generation identifies the current cache contents.
func (c *Cache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Set stores stats under key if no Invalidate happened since gen was read.
// It reports whether the value was stored.
func (c *Cache) Set(key string, gen uint64, stats Stats) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.lru.Add(key, stats)
	return true
}

// Invalidate drops every cached scope. Any mutation can affect the global
// and public scopes as well as the owner's, so entries are not removed
// selectively.
func (c *Cache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lru.Purge()
}
