package app

import (
	"context"
	"sync"
	"time"

	"whalewatch/clients/notifier"
	"whalewatch/internal/metrics"
)

// ProfileFetchFunc loads a profile from the platform.
type ProfileFetchFunc func(ctx context.Context, actor string) (*notifier.WhaleProfile, error)

type profileEntry struct {
	profile   *notifier.WhaleProfile
	fetchedAt time.Time
}

// ProfileCache keeps fetched whale profiles for a fixed TTL. Expired entries
// are never served; they are refetched on lookup and swept by Prune.
// Concurrent misses for the same actor may both fetch.
type ProfileCache struct {
	ttl     time.Duration
	clock   Clock
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]profileEntry
}

// NewProfileCache creates a cache with the given TTL.
func NewProfileCache(ttl time.Duration, clock Clock, m *metrics.Metrics) *ProfileCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if clock == nil {
		clock = realClock{}
	}
	return &ProfileCache{
		ttl:     ttl,
		clock:   clock,
		metrics: m,
		entries: make(map[string]profileEntry),
	}
}

// GetOrFetch returns the cached profile while it is fresh and calls fetch
// otherwise. Fetch errors are returned and not cached; an empty result is.
func (c *ProfileCache) GetOrFetch(ctx context.Context, actor string, fetch ProfileFetchFunc) (*notifier.WhaleProfile, error) {
	c.mu.RLock()
	entry, ok := c.entries[actor]
	c.mu.RUnlock()

	if ok && c.clock.Now().Sub(entry.fetchedAt) < c.ttl {
		c.count("hit")
		return entry.profile, nil
	}

	profile, err := fetch(ctx, actor)
	if err != nil {
		c.count("error")
		return nil, err
	}
	c.count("fetched")

	c.mu.Lock()
	c.entries[actor] = profileEntry{profile: profile, fetchedAt: c.clock.Now()}
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ProfileCacheEntries.Set(float64(size))
	}
	return profile, nil
}

// Prune removes expired entries and returns how many were dropped.
func (c *ProfileCache) Prune() int {
	now := c.clock.Now()

	c.mu.Lock()
	removed := 0
	for actor, entry := range c.entries {
		if now.Sub(entry.fetchedAt) >= c.ttl {
			delete(c.entries, actor)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ProfileCacheEntries.Set(float64(size))
		c.metrics.PruneRemoved.WithLabelValues("profiles").Add(float64(removed))
	}
	return removed
}

// Size returns the number of cached entries, fresh or not.
func (c *ProfileCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ProfileCache) count(result string) {
	if c.metrics != nil {
		c.metrics.ProfileFetches.WithLabelValues(result).Inc()
	}
}
