// Package dedup implements the membership test used to skip already-seen
// work: a fixed-capacity Bloom filter backed by a small exact recency cache.
// Memory is O(configured capacity), never O(items seen); the price is a
// bounded false-positive rate on the probabilistic side.
package dedup

import (
	"container/list"
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// Defaults matching typical crawl volumes.
const (
	DefaultCapacity  = 100_000
	DefaultFPRate    = 0.001
	DefaultCacheSize = 1_000
)

// Deduplicator answers Seen/Add over string keys (URLs or content hashes).
// Safe for concurrent use.
type Deduplicator struct {
	mu     sync.Mutex
	bits   *bitset.BitSet
	m      uint64
	k      uint64
	cache  *recencyCache
	added  uint64
	fpRate float64
}

// New builds a Deduplicator for the expected capacity and target
// false-positive rate, with an exact cache of cacheSize recent keys.
func New(capacity int, fpRate float64, cacheSize int) *Deduplicator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = DefaultFPRate
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	m := optimalBits(capacity, fpRate)
	k := optimalHashes(m, capacity)
	return &Deduplicator{
		bits:   bitset.New(uint(m)),
		m:      m,
		k:      k,
		cache:  newRecencyCache(cacheSize),
		fpRate: fpRate,
	}
}

// Seen reports whether key was added before. The recency cache is consulted
// first and is authoritative for recent keys; on a cache miss the Bloom
// filter answers, where a negative is authoritative and a positive may be a
// false positive within the configured rate.
func (d *Deduplicator) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cache.contains(key) {
		return true
	}
	h1, h2 := d.hashPair(key)
	for i := uint64(0); i < d.k; i++ {
		if !d.bits.Test(uint((h1 + i*h2) % d.m)) {
			return false
		}
	}
	return true
}

// Add inserts key into both structures.
func (d *Deduplicator) Add(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h1, h2 := d.hashPair(key)
	for i := uint64(0); i < d.k; i++ {
		d.bits.Set(uint((h1 + i*h2) % d.m))
	}
	d.cache.add(key)
	d.added++
}

// Added returns the number of keys inserted so far.
func (d *Deduplicator) Added() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.added
}

// hashPair derives two independent 64-bit hashes for double hashing.
func (d *Deduplicator) hashPair(key string) (uint64, uint64) {
	h1 := xxhash.Sum64String(key)
	var hd xxhash.Digest
	hd.Reset()
	_, _ = hd.Write([]byte{0xff})
	_, _ = hd.WriteString(key)
	h2 := hd.Sum64() | 1 // odd so the stride never collapses
	return h1, h2
}

// optimalBits: m = -(n * ln p) / (ln 2)^2.
func optimalBits(n int, p float64) uint64 {
	m := -(float64(n) * math.Log(p)) / (math.Ln2 * math.Ln2)
	return uint64(math.Ceil(m))
}

// optimalHashes: k = (m/n) * ln 2.
func optimalHashes(m uint64, n int) uint64 {
	k := (float64(m) / float64(n)) * math.Ln2
	if k < 1 {
		return 1
	}
	return uint64(math.Ceil(k))
}

// recencyCache is a bounded ordered set; the oldest key is evicted first.
type recencyCache struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newRecencyCache(capacity int) *recencyCache {
	return &recencyCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

func (c *recencyCache) contains(key string) bool {
	_, ok := c.index[key]
	return ok
}

func (c *recencyCache) add(key string) {
	if el, ok := c.index[key]; ok {
		c.order.MoveToBack(el)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(string))
		}
	}
	c.index[key] = c.order.PushBack(key)
}

func (c *recencyCache) len() int { return c.order.Len() }
