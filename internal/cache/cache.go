// Package cache holds recently built envelopes so repeated requests within
// one session skip a full rebuild. Entries are keyed on the stable parts of
// a request (session, intent, expertise); anything carrying live environment
// data expires on a shorter TTL.
package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/stackconsulting/orchestra/internal/config"
	"github.com/stackconsulting/orchestra/internal/envelope"
	"github.com/stackconsulting/orchestra/internal/logging"
)

type entry struct {
	env       *envelope.Envelope
	userID    string
	expiresAt time.Time
}

// Cache is a bounded in-memory TTL cache of built envelopes. Concurrent
// lookups of the same key during a rebuild are allowed to race; last writer
// wins and both callers get a valid envelope.
type Cache struct {
	mu      sync.RWMutex
	entries map[uint64]entry

	cfg config.CacheConfig

	hits   int
	misses int

	// now is swappable for expiry tests.
	now func() time.Time
}

// New returns an empty cache.
func New(cfg config.CacheConfig) *Cache {
	return &Cache{
		entries: make(map[uint64]entry),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Key derives the cache key from the stable request dimensions. Message text
// is deliberately excluded: two phrasings of the same task in the same
// session share an envelope.
func Key(sessionID, primaryIntent string, expertise envelope.Expertise) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s", sessionID, primaryIntent, expertise)
	return h.Sum64()
}

// Get returns a cached envelope, or nil on miss or expiry.
func (c *Cache) Get(key uint64) *envelope.Envelope {
	if !c.cfg.Enabled {
		return nil
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil
	}

	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// A Put may have replaced the entry since the read; only delete
		// the entry we actually saw expire.
		if cur, exists := c.entries[key]; exists && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.misses++
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	logging.CacheDebug("hit for key %d (envelope %s)", key, e.env.ContextID)
	return e.env
}

// Put stores an envelope. Volatile content (live load data, degraded layers)
// gets the short TTL; stable content the long one. When the cache is full
// the entry closest to expiry is evicted.
func (c *Cache) Put(key uint64, env *envelope.Envelope) {
	if !c.cfg.Enabled || env == nil {
		return
	}

	ttl := c.cfg.StableTTL()
	if volatile(env) {
		ttl = c.cfg.VolatileTTL()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.MaxEntries > 0 && len(c.entries) >= c.cfg.MaxEntries {
		if _, exists := c.entries[key]; !exists {
			c.evictSoonestLocked()
		}
	}

	c.entries[key] = entry{
		env:       env,
		userID:    env.User.UserID,
		expiresAt: c.now().Add(ttl),
	}
	logging.CacheDebug("stored envelope %s (ttl %v)", env.ContextID, ttl)
}

// InvalidateUser drops every entry belonging to the given user. Called when
// user preferences change so stale personalization never serves.
func (c *Cache) InvalidateUser(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, e := range c.entries {
		if e.userID == userID {
			delete(c.entries, key)
			dropped++
		}
	}
	if dropped > 0 {
		logging.Cache("invalidated %d entries for user %s", dropped, userID)
	}
	return dropped
}

// Purge drops everything.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]entry)
}

// Stats reports hit/miss counters and current size.
func (c *Cache) Stats() (hits, misses, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.entries)
}

// volatile reports whether the envelope carries content that goes stale
// quickly.
func volatile(env *envelope.Envelope) bool {
	return env.Environment.SystemLoad > 0 || len(env.Degraded) > 0
}

// evictSoonestLocked removes the entry with the earliest expiry. Caller
// holds the write lock.
func (c *Cache) evictSoonestLocked() {
	var victim uint64
	var soonest time.Time
	first := true
	for key, e := range c.entries {
		if first || e.expiresAt.Before(soonest) {
			victim, soonest = key, e.expiresAt
			first = false
		}
	}
	if !first {
		delete(c.entries, victim)
	}
}
