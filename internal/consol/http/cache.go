package http

import (
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
)

const defaultCacheTTL = 5 * time.Minute

type cacheItem struct {
	value   consol.Statement
	expires time.Time
}

// statementCache keeps recent consolidation results per root, date and period.
// Any mutation of the group busts it and advances the generation, so a build
// that started before the mutation is never stored.
type statementCache struct {
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]cacheItem
	gen   uint64
	now   func() time.Time
}

func newStatementCache(ttl time.Duration) *statementCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &statementCache{ttl: ttl, items: make(map[string]cacheItem), now: time.Now}
}

func (c *statementCache) Get(key string) (consol.Statement, bool) {
	if c == nil {
		return consol.Statement{}, false
	}
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return consol.Statement{}, false
	}
	if c.now().After(item.expires) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return consol.Statement{}, false
	}
	return item.value, true
}

// Generation identifies the state of the group the cache currently reflects.
func (c *statementCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Set stores value when no bust happened since gen was read. It reports
// whether the value was kept.
func (c *statementCache) Set(key string, gen uint64, value consol.Statement) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.items[key] = cacheItem{value: value, expires: c.now().Add(c.ttl)}
	return true
}

func (c *statementCache) Bust() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.items = make(map[string]cacheItem)
	c.gen++
	c.mu.Unlock()
}

func buildCacheKey(root string, asOf, periodStart time.Time) string {
	start := "ytd"
	if !periodStart.IsZero() {
		start = periodStart.Format(dateLayout)
	}
	return "consol:" + root + "|" + asOf.Format(dateLayout) + "|" + start
}
