// Package blockcache implements the byte-capacity LRU behind the optional
// per-block read cache of blockfs.
package blockcache

import "container/list"

// Cache is an LRU of raw block contents keyed by block index. It is not
// safe for concurrent use; the filesystem serializes all access.
type Cache struct {
	capacity  int64
	size      int64
	items     map[uint64]*list.Element
	evictList *list.List

	hits   int64
	misses int64
}

type entry struct {
	key   uint64
	value []byte
}

// New returns a cache holding at most capacity bytes of block data.
func New(capacity int64) *Cache {
	return &Cache{
		capacity:  capacity,
		items:     make(map[uint64]*list.Element),
		evictList: list.New(),
	}
}

// Get returns the cached block, marking it most recently used.
func (c *Cache) Get(key uint64) ([]byte, bool) {
	if ent, ok := c.items[key]; ok {
		c.hits++
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry).value, true
	}
	c.misses++
	return nil, false
}

// Set caches a block, evicting least recently used entries to stay within
// capacity. Blocks larger than the whole capacity are not cached.
func (c *Cache) Set(key uint64, value []byte) {
	if int64(len(value)) > c.capacity {
		return
	}

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		c.size += int64(len(value)) - int64(len(ent.Value.(*entry).value))
		ent.Value.(*entry).value = value
	} else {
		c.items[key] = c.evictList.PushFront(&entry{key: key, value: value})
		c.size += int64(len(value))
	}

	for c.size > c.capacity {
		c.evictOldest()
	}
}

// Remove drops a block from the cache.
func (c *Cache) Remove(key uint64) {
	if ent, ok := c.items[key]; ok {
		c.removeElement(ent)
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.items = make(map[uint64]*list.Element)
	c.evictList.Init()
	c.size = 0
}

// Len returns the number of cached blocks.
func (c *Cache) Len() int {
	return len(c.items)
}

// Size returns the cached bytes.
func (c *Cache) Size() int64 {
	return c.size
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits, c.misses
}

func (c *Cache) evictOldest() {
	if ent := c.evictList.Back(); ent != nil {
		c.removeElement(ent)
	}
}

func (c *Cache) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	ent := e.Value.(*entry)
	delete(c.items, ent.key)
	c.size -= int64(len(ent.value))
}
