package session

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/questforge/encounterd/internal/metrics"
	"github.com/questforge/encounterd/pkg/types"
)

// DefaultCacheSize bounds the number of cached sessions.
const DefaultCacheSize = 1024

// EvictFunc observes sessions pushed out of the cache.
type EvictFunc func(sess *types.Session)

// Cache is a bounded LRU of sessions keyed by id. Safe for concurrent use.
type Cache struct {
	lru *lru.Cache[string, *types.Session]
}

// NewCache creates a cache holding at most size sessions.
// onEvict runs for capacity evictions only, outside the cache lock.
func NewCache(size int, onEvict EvictFunc) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c := &Cache{}
	l, err := lru.NewWithEvict(size, func(_ string, sess *types.Session) {
		metrics.SessionsCached.Set(float64(c.lru.Len()))
		if onEvict != nil {
			onEvict(sess)
		}
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Get returns the cached session and marks it recently used.
func (c *Cache) Get(id string) (*types.Session, bool) {
	return c.lru.Get(id)
}

// Put inserts or replaces a session.
func (c *Cache) Put(sess *types.Session) {
	c.lru.Add(sess.ID, sess)
	metrics.SessionsCached.Set(float64(c.lru.Len()))
}

// PutIfAbsent inserts sess unless the id is already cached, and returns the cached value.
func (c *Cache) PutIfAbsent(sess *types.Session) *types.Session {
	prev, ok, _ := c.lru.PeekOrAdd(sess.ID, sess)
	metrics.SessionsCached.Set(float64(c.lru.Len()))
	if ok {
		return prev
	}
	return sess
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int { return c.lru.Len() }

// Values returns the cached sessions from oldest to newest.
func (c *Cache) Values() []*types.Session { return c.lru.Values() }
