package schema

import (
	"sync"
	"sync/atomic"

	"github.com/zhukovaskychina/xvdbe/storage/btree"
)

// Counter is the live schema generation of one database instance. It
// follows the committed value of the generation meta slot.
type Counter struct {
	gen uint32
}

func (c *Counter) Load() uint32 { return atomic.LoadUint32(&c.gen) }

func (c *Counter) Store(gen uint32) { atomic.StoreUint32(&c.gen, gen) }

// Track makes the counter pick up the generation of tx once it commits.
func (c *Counter) Track(tx *btree.Tx) {
	tx.OnCommit(func() { c.Store(Generation(tx)) })
}

// Cache holds the catalog of the live generation.
type Cache struct {
	counter *Counter

	mu  sync.Mutex
	cat *Catalog
}

func NewCache(counter *Counter) *Cache {
	return &Cache{counter: counter}
}

// Get returns the cached catalog when it matches the live generation and
// loads a fresh one with load otherwise.
func (c *Cache) Get(load func() (*Catalog, error)) (*Catalog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cat != nil && c.cat.Generation == c.counter.Load() {
		return c.cat, nil
	}
	cat, err := load()
	if err != nil {
		return nil, err
	}
	c.cat = cat
	return cat, nil
}

// Invalidate drops the cached catalog.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cat = nil
	c.mu.Unlock()
}
