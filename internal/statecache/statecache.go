// Package statecache is the process-wide TTL cache keyed by site analysis,
// DB analysis, and computed range. The Session preflight step consults it
// for the site analysis to avoid redundant network work across quick
// successive starts; the Planner does not read it, and nothing in the
// module stores the other two categories.
package statecache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Category keys the cache's three known value kinds.
type Category string

const (
	CategorySiteAnalysis    Category = "site_analysis"
	CategoryDbAnalysis      Category = "db_analysis"
	CategoryCalculatedRange Category = "calculated_range"
)

// Cache wraps patrickmn/go-cache with the category-keyed, TTL-checked
// get/set surface the Session preflight step uses.
type Cache struct {
	c *gocache.Cache
}

// New creates a cache with no default expiration; callers pass an explicit
// TTL per GetValid/Set call since each category has its own freshness
// window.
func New() *Cache {
	return &Cache{c: gocache.New(gocache.NoExpiration, 1*time.Minute)}
}

// Set stores value under category with the given TTL.
func (c *Cache) Set(category Category, value any, ttl time.Duration) {
	c.c.Set(string(category), value, ttl)
}

// GetValid returns the cached value for category if present and not yet
// expired by go-cache's own bookkeeping, matching the spec's
// `get_valid(category, ttl)` contract (TTL is bound at Set time here,
// rather than re-checked at Get time, since go-cache already expires
// entries on its own clock).
func (c *Cache) GetValid(category Category) (any, bool) {
	return c.c.Get(string(category))
}

// ClearAll empties the cache.
func (c *Cache) ClearAll() {
	c.c.Flush()
}
