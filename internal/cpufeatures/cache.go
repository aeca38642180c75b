package cpufeatures

import (
	"time"

	"github.com/patrickmn/go-cache"
)

const snapshotKey = "snapshot"

// Cache memoises a Prober's Snapshot for a TTL.  It is strictly opt-in:
// the package-level predicates never consult it.  Use it in hot loops where
// the CPUID cost matters more than noticing a core migration.
type Cache struct {
	prober *Prober
	store  *cache.Cache
}

// NewCache wraps p.  A non-positive ttl keeps the first snapshot until Flush.
func NewCache(p *Prober, ttl time.Duration) *Cache {
	if p == nil {
		p = hardwareProber
	}
	expiration, cleanup := ttl, 2*ttl
	if ttl <= 0 {
		expiration, cleanup = cache.NoExpiration, 0
	}
	return &Cache{
		prober: p,
		store:  cache.New(expiration, cleanup),
	}
}

// Snapshot returns the cached snapshot, probing when it is missing or expired.
func (c *Cache) Snapshot() *Snapshot {
	if v, found := c.store.Get(snapshotKey); found {
		return v.(*Snapshot)
	}
	s := c.prober.Detect()
	c.store.SetDefault(snapshotKey, s)
	return s
}

// Has answers from the cached snapshot.
func (c *Cache) Has(f Feature) bool {
	return c.Snapshot().Has(f)
}

// IsX86Compatible answers from the cached snapshot.
func (c *Cache) IsX86Compatible() bool {
	return c.Snapshot().IntelCompatible
}

// Flush drops the cached snapshot so the next call re-probes.
func (c *Cache) Flush() {
	c.store.Delete(snapshotKey)
}
