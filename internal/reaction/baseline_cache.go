package reaction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/postday/reactions/internal/metrics"
)

// BaselineCache wraps a BaselineSource with TTL-based in-memory caching.
// Baselines change essentially never after a post is created, but every
// submit and snapshot read needs one; without the cache each request would
// cost a database round trip.
type BaselineCache struct {
	mu      sync.RWMutex
	source  BaselineSource
	entries map[string]*baselineEntry
	ttl     time.Duration
	clock   clockwork.Clock
}

type baselineEntry struct {
	baseline  map[string]int
	expiresAt time.Time
}

func NewBaselineCache(source BaselineSource, ttl time.Duration, clock clockwork.Clock) *BaselineCache {
	return &BaselineCache{
		source:  source,
		entries: make(map[string]*baselineEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

func (c *BaselineCache) Baseline(ctx context.Context, postID string) (map[string]int, error) {
	c.mu.RLock()
	entry, ok := c.entries[postID]
	c.mu.RUnlock()
	if ok && c.clock.Now().Before(entry.expiresAt) {
		return entry.baseline, nil
	}

	baseline, err := c.source.Baseline(ctx, postID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[postID] = &baselineEntry{
		baseline:  baseline,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
	c.mu.Unlock()

	return baseline, nil
}

// Invalidate removes a post from the cache, forcing a refresh on next use.
func (c *BaselineCache) Invalidate(postID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, postID)
}

// Size returns the current number of entries (including expired).
func (c *BaselineCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// EvictExpired removes expired entries and returns the count evicted.
func (c *BaselineCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for postID, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, postID)
			evicted++
		}
	}
	return evicted
}

// StartEvictionTimer starts a background goroutine that periodically evicts
// expired entries. Returns a stop function.
func (c *BaselineCache) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.Chan():
				evicted := c.EvictExpired()
				if evicted > 0 {
					slog.Debug("Evicted expired baseline cache entries",
						"count", evicted,
						"remaining", c.Size(),
					)
					metrics.BaselineCacheEvictions.Add(float64(evicted))
				}
				metrics.BaselineCacheSize.Set(float64(c.Size()))
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		close(done)
	}
}
