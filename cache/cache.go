package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// admissionDivisor bounds a single entry to 1/8 of its tier's budget; in
// the sharded RAM tier the budget is that of one shard.
const admissionDivisor = 8

// memoryCutoff is the largest value kept in the RAM tier; anything bigger
// goes straight to disk.
const memoryCutoff = 1 << 20

// Options sizes the two tiers.
type Options struct {
	// MemorySize is the RAM tier budget in bytes.
	MemorySize int64
	// DiskSize is the NVMe tier budget in bytes. Zero disables the disk
	// tier.
	DiskSize int64
	// DiskPath is the NVMe tier directory.
	DiskPath string
}

// DefaultOptions mirrors the configuration surface defaults.
var DefaultOptions = Options{
	MemorySize: 4 << 30,
	DiskSize:   100 << 30,
	DiskPath:   "./cache",
}

// Cache is the two-tier cache manager.
type Cache struct {
	mem   *memoryTier
	disk  *diskTier // nil when the disk tier is disabled
	pins  *pinSet
	group singleflight.Group
}

// New creates a Cache with the given tier budgets.
func New(opts Options) (*Cache, error) {
	if opts.MemorySize <= 0 {
		opts.MemorySize = DefaultOptions.MemorySize
	}
	pins := newPinSet()
	c := &Cache{
		mem:  newMemoryTier(opts.MemorySize, pins),
		pins: pins,
	}
	if opts.DiskSize > 0 {
		disk, err := newDiskTier(opts.DiskPath, opts.DiskSize, pins)
		if err != nil {
			return nil, err
		}
		c.disk = disk
	}
	return c, nil
}

// Get returns the cached value for key, checking RAM first, then disk.
// A disk hit is promoted into RAM.
func (c *Cache) Get(key string) ([]byte, bool) {
	if val, ok := c.mem.Get(key); ok {
		return val, true
	}
	if c.disk != nil {
		if val, ok := c.disk.Get(key); ok {
			if len(val) <= memoryCutoff {
				c.mem.Put(key, val)
			}
			return val, true
		}
	}
	return nil, false
}

// Put admits the value into the appropriate tier. Admission may reject
// entries that are too large for their tier.
func (c *Cache) Put(key string, val []byte) {
	if len(val) <= memoryCutoff {
		if c.mem.Put(key, val) {
			return
		}
	}
	if c.disk != nil {
		c.disk.Put(key, val)
	}
}

// GetOrFetch returns the cached value or runs fetch to fill it. Concurrent
// misses on the same key coalesce into a single fetch.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if val, ok := c.Get(key); ok {
		return val, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if val, ok := c.Get(key); ok {
			return val, nil
		}
		val, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, val)
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// PinNamespace prevents (or re-allows) eviction of a namespace's entries.
func (c *Cache) PinNamespace(ns string, pinned bool) {
	c.pins.set(ns, pinned)
}

// MemorySize returns the current RAM tier usage in bytes.
func (c *Cache) MemorySize() int64 { return c.mem.Size() }

// DiskSize returns the current NVMe tier usage in bytes.
func (c *Cache) DiskSize() int64 {
	if c.disk == nil {
		return 0
	}
	return c.disk.Size()
}
