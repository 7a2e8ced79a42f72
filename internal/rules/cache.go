// internal/rules/cache.go
package rules

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/solatis/rulefilter/internal/provider"
	"github.com/solatis/rulefilter/internal/types"
)

/*
 * Compiled-predicate cache.
 *
 * Keys combine rule set identity, its UpdatedOnUtc stamp and the target:
 *
 *   <rule set id>|<updated unix nanos>|<target>
 *
 * Editing a rule set (or any of its sub-groups, whose store touches every
 * parent) changes the stamp, so stale entries are simply never looked up
 * again and age out of the LRU.
 *
 * Concurrent misses on the same key share one compilation through
 * singleflight; lookups of other keys proceed in parallel.
 */

// DefaultCacheSize bounds the number of cached predicates.
const DefaultCacheSize = 1024

// PredicateCache caches compiled predicates.
type PredicateCache struct {
	entries  *lru.Cache
	group    singleflight.Group
	compiles atomic.Int64
}

// NewPredicateCache creates a cache holding up to size predicates.
func NewPredicateCache(size int) (*PredicateCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("predicate cache: %w", err)
	}
	return &PredicateCache{entries: entries}, nil
}

// CacheKey identifies rs compiled for target.
func CacheKey(rs *types.RuleSet, target provider.Target) string {
	return fmt.Sprintf("%s|%d|%s", rs.ID, rs.UpdatedOnUtc.UnixNano(), target)
}

// GetOrCompile returns the cached predicate for key or runs compile once,
// however many goroutines miss concurrently. Failures are not cached.
func (c *PredicateCache) GetOrCompile(key string, compile func() (*provider.Predicate, error)) (*provider.Predicate, bool, error) {
	if v, ok := c.entries.Get(key); ok {
		return v.(*provider.Predicate), true, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.entries.Get(key); ok {
			return v, nil
		}
		c.compiles.Add(1)
		p, err := compile()
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, p)
		return p, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*provider.Predicate), false, nil
}

// Invalidate drops every entry of rule set id.
func (c *PredicateCache) Invalidate(id types.RuleSetID) int {
	prefix := string(id) + "|"
	removed := 0
	for _, k := range c.entries.Keys() {
		if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
			c.entries.Remove(k)
			removed++
		}
	}
	return removed
}

// Purge empties the cache.
func (c *PredicateCache) Purge() { c.entries.Purge() }

// Len returns the number of cached predicates.
func (c *PredicateCache) Len() int { return c.entries.Len() }

// Compiles returns how many compilations the cache has run.
func (c *PredicateCache) Compiles() int64 { return c.compiles.Load() }

// stamp formats a cache stamp for logs.
func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
