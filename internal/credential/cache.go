package credential

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"ice-broker/internal/domain"
)

// DefaultTTL is how long a fetched credential set is served from memory.
const DefaultTTL = 5 * time.Minute

// Cache holds the last successfully fetched credential set. Expired entries
// are never served; nothing is evicted actively.
type Cache struct {
	clock clock.Clock
	ttl   time.Duration

	mu      sync.RWMutex
	set     domain.CredentialSet
	expiry  time.Time
	present bool
}

func NewCache(clk clock.Clock, ttl time.Duration) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{clock: clk, ttl: ttl}
}

// Get returns a copy of the cached set if now < expiry.
func (c *Cache) Get() (domain.CredentialSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.present || !c.clock.Now().Before(c.expiry) {
		return domain.CredentialSet{}, false
	}
	return c.set.Clone(), true
}

// Put stores a copy of set and stamps expiry = now + TTL.
func (c *Cache) Put(set domain.CredentialSet) {
	set = set.Clone()
	c.mu.Lock()
	c.set = set
	c.expiry = c.clock.Now().Add(c.ttl)
	c.present = true
	c.mu.Unlock()
}

// Expiry returns the current entry's expiry, zero if nothing was stored.
func (c *Cache) Expiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiry
}
