package portal

import (
	"sync"
	"time"

	"cdrwatch/internal/cdr"
)

// cacheKey identifies one cacheable retrieval. Any field difference
// is a miss.
type cacheKey struct {
	start  string
	end    string
	typ    string
	filter string
}

// reportCache is the single-slot TTL cache over the last retrieval.
// An entry is written atomically as a whole; expiry is time-only.
type reportCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	now func() time.Time

	key       cacheKey
	records   []cdr.Record
	fetchedAt time.Time
	valid     bool
}

func newReportCache(ttl time.Duration) *reportCache {
	return &reportCache{ttl: ttl, now: time.Now}
}

func (c *reportCache) get(key cacheKey) ([]cdr.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid || c.key != key {
		return nil, false
	}
	if c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.records, true
}

func (c *reportCache) put(key cacheKey, records []cdr.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
	c.records = records
	c.fetchedAt = c.now()
	c.valid = true
}

// populated reports whether an unexpired entry exists.
func (c *reportCache) populated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.valid && c.now().Sub(c.fetchedAt) < c.ttl
}

func (c *reportCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid {
		return 0
	}
	return len(c.records)
}
