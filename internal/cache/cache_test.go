package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackconsulting/orchestra/internal/config"
	"github.com/stackconsulting/orchestra/internal/envelope"
)

func testConfig() config.CacheConfig {
	return config.CacheConfig{
		Enabled:            true,
		StableTTLSeconds:   300,
		VolatileTTLSeconds: 60,
		MaxEntries:         100,
	}
}

func testEnvelope(userID string) *envelope.Envelope {
	return &envelope.Envelope{
		ContextID: "ctx-" + userID,
		User:      envelope.UserLayer{UserID: userID},
		Intent:    envelope.IntentLayer{Primary: envelope.IntentImplementation},
	}
}

func TestKeyStable(t *testing.T) {
	k1 := Key("sess-1", envelope.IntentImplementation, envelope.ExpertiseExpert)
	k2 := Key("sess-1", envelope.IntentImplementation, envelope.ExpertiseExpert)
	assert.Equal(t, k1, k2)

	assert.NotEqual(t, k1, Key("sess-2", envelope.IntentImplementation, envelope.ExpertiseExpert))
	assert.NotEqual(t, k1, Key("sess-1", envelope.IntentPlanning, envelope.ExpertiseExpert))
	assert.NotEqual(t, k1, Key("sess-1", envelope.IntentImplementation, envelope.ExpertiseBeginner))
}

func TestGetPut(t *testing.T) {
	c := New(testConfig())
	key := Key("sess-1", envelope.IntentImplementation, envelope.ExpertiseExpert)

	assert.Nil(t, c.Get(key))

	env := testEnvelope("alice")
	c.Put(key, env)

	got := c.Get(key)
	require.NotNil(t, got)
	assert.Equal(t, env.ContextID, got.ContextID)

	hits, misses, size := c.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
	assert.Equal(t, 1, size)
}

func TestDisabledCache(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := New(cfg)

	key := Key("sess-1", envelope.IntentImplementation, envelope.ExpertiseExpert)
	c.Put(key, testEnvelope("alice"))
	assert.Nil(t, c.Get(key))
}

func TestExpiry(t *testing.T) {
	c := New(testConfig())
	current := time.Now()
	c.now = func() time.Time { return current }

	key := Key("sess-1", envelope.IntentImplementation, envelope.ExpertiseExpert)
	c.Put(key, testEnvelope("alice"))
	require.NotNil(t, c.Get(key))

	current = current.Add(301 * time.Second)
	assert.Nil(t, c.Get(key))

	_, _, size := c.Stats()
	assert.Zero(t, size)
}

func TestExpiredGetKeepsRacingFreshEntry(t *testing.T) {
	c := New(testConfig())
	base := time.Now()

	key := Key("sess-1", envelope.IntentImplementation, envelope.ExpertiseExpert)
	fresh := testEnvelope("alice")
	c.entries[key] = entry{env: testEnvelope("stale"), userID: "stale", expiresAt: base.Add(-time.Second)}

	// The clock hook stands in for a Put racing the expired read: it swaps
	// a fresh entry in after the lock-free expiry check, before the delete.
	swapped := false
	c.now = func() time.Time {
		if !swapped {
			swapped = true
			c.mu.Lock()
			c.entries[key] = entry{env: fresh, userID: "alice", expiresAt: base.Add(time.Hour)}
			c.mu.Unlock()
		}
		return base
	}

	assert.Nil(t, c.Get(key))

	got := c.Get(key)
	require.NotNil(t, got)
	assert.Equal(t, fresh.ContextID, got.ContextID)
}

func TestVolatileTTL(t *testing.T) {
	c := New(testConfig())
	current := time.Now()
	c.now = func() time.Time { return current }

	// Live load data marks the envelope volatile.
	env := testEnvelope("alice")
	env.Environment.SystemLoad = 0.6

	key := Key("sess-1", envelope.IntentImplementation, envelope.ExpertiseExpert)
	c.Put(key, env)

	current = current.Add(61 * time.Second)
	assert.Nil(t, c.Get(key))
}

func TestDegradedEnvelopeIsVolatile(t *testing.T) {
	c := New(testConfig())
	current := time.Now()
	c.now = func() time.Time { return current }

	env := testEnvelope("alice")
	env.Degraded = []string{envelope.LayerUser}

	key := Key("sess-1", envelope.IntentImplementation, envelope.ExpertiseExpert)
	c.Put(key, env)

	// Still live at the volatile TTL boundary minus one.
	current = current.Add(59 * time.Second)
	assert.NotNil(t, c.Get(key))

	current = current.Add(2 * time.Second)
	assert.Nil(t, c.Get(key))
}

func TestInvalidateUser(t *testing.T) {
	c := New(testConfig())

	c.Put(Key("sess-1", envelope.IntentImplementation, envelope.ExpertiseExpert), testEnvelope("alice"))
	c.Put(Key("sess-2", envelope.IntentPlanning, envelope.ExpertiseExpert), testEnvelope("alice"))
	c.Put(Key("sess-3", envelope.IntentImplementation, envelope.ExpertiseBeginner), testEnvelope("bob"))

	dropped := c.InvalidateUser("alice")
	assert.Equal(t, 2, dropped)

	assert.Nil(t, c.Get(Key("sess-1", envelope.IntentImplementation, envelope.ExpertiseExpert)))
	assert.NotNil(t, c.Get(Key("sess-3", envelope.IntentImplementation, envelope.ExpertiseBeginner)))
}

func TestMaxEntriesEviction(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntries = 3
	c := New(cfg)
	current := time.Now()
	c.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		c.Put(Key(fmt.Sprintf("sess-%d", i), envelope.IntentImplementation, envelope.ExpertiseExpert), testEnvelope("alice"))
		current = current.Add(time.Second)
	}

	// A fourth insert evicts the entry closest to expiry (the oldest).
	c.Put(Key("sess-3", envelope.IntentImplementation, envelope.ExpertiseExpert), testEnvelope("alice"))

	_, _, size := c.Stats()
	assert.Equal(t, 3, size)
	assert.Nil(t, c.Get(Key("sess-0", envelope.IntentImplementation, envelope.ExpertiseExpert)))
	assert.NotNil(t, c.Get(Key("sess-3", envelope.IntentImplementation, envelope.ExpertiseExpert)))
}

func TestConcurrentSameKeyLastWriterWins(t *testing.T) {
	c := New(testConfig())
	key := Key("sess-1", envelope.IntentImplementation, envelope.ExpertiseExpert)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Put(key, testEnvelope(fmt.Sprintf("user-%d", n)))
			_ = c.Get(key)
		}(i)
	}
	wg.Wait()

	// Exactly one version survives and it is complete.
	got := c.Get(key)
	require.NotNil(t, got)
	assert.NotEmpty(t, got.ContextID)
	_, _, size := c.Stats()
	assert.Equal(t, 1, size)
}
