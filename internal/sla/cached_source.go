package sla

import (
	"context"
	"sync"
	"time"

	"github.com/slicewatch/kpi-pipeline/internal/models"
)

// CachedSource wraps a RuleSource with a per-slice TTL cache and explicit
// invalidation, so the evaluator does not hit the slice configuration
// collaborator on every sample.
type CachedSource struct {
	source RuleSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	rules     []models.SlaRule
	fetchedAt time.Time
}

// NewCachedSource builds the cache. A non-positive ttl disables caching.
func NewCachedSource(source RuleSource, ttl time.Duration) *CachedSource {
	return &CachedSource{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// RulesFor serves from cache within the TTL, otherwise delegates. A
// delegate failure is returned as-is; stale entries are not served in its
// place, keeping rule-lookup failures visible to the coordinator.
func (c *CachedSource) RulesFor(ctx context.Context, sliceID string) ([]models.SlaRule, error) {
	if c.ttl > 0 {
		c.mu.RLock()
		entry, ok := c.entries[sliceID]
		c.mu.RUnlock()
		if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
			return entry.rules, nil
		}
	}

	rules, err := c.source.RulesFor(ctx, sliceID)
	if err != nil {
		return nil, err
	}

	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[sliceID] = cacheEntry{rules: rules, fetchedAt: c.now()}
		c.mu.Unlock()
	}
	return rules, nil
}

// Invalidate drops the cached rule set for a slice, forcing the next
// evaluation to refetch. Called when the slice configuration changes.
func (c *CachedSource) Invalidate(sliceID string) {
	c.mu.Lock()
	delete(c.entries, sliceID)
	c.mu.Unlock()
}

// InvalidateAll clears the whole cache, used on reload signals.
func (c *CachedSource) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
