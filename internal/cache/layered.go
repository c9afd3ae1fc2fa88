package cache

import "time"

// LayeredStore fronts a FileStore with an in-memory layer.
// A memory entry is served only while its disk entry is still live, so the
// memory layer cannot resurrect an expired image.
type LayeredStore struct {
	memory    *MemoryCache
	disk      *FileStore
	memoryTTL time.Duration
}

// NewLayeredStore creates a layered store over disk. memoryTTL is capped at TTL.
func NewLayeredStore(disk *FileStore, memoryTTL time.Duration) *LayeredStore {
	memoryTTL = min(memoryTTL, TTL)
	return &LayeredStore{
		memory:    NewMemoryCache(memoryTTL, 10*time.Minute),
		disk:      disk,
		memoryTTL: memoryTTL,
	}
}

// Disk returns the underlying file store
func (c *LayeredStore) Disk() *FileStore {
	return c.disk
}

// Exists checks memory first, then disk
func (c *LayeredStore) Exists(key string) bool {
	_, found := c.fromMemory(key)
	return found || c.disk.Exists(key)
}

// Get retrieves a value (memory first, then disk with promotion)
func (c *LayeredStore) Get(key string) ([]byte, error) {
	if val, found := c.fromMemory(key); found {
		return val, nil
	}

	val, err := c.disk.Get(key)
	if err != nil {
		return nil, err
	}
	c.promote(key, val)
	return val, nil
}

// Put stores a value on disk, then in memory
func (c *LayeredStore) Put(key string, data []byte) error {
	if err := c.disk.Put(key, data); err != nil {
		return err
	}
	c.promote(key, data)
	return nil
}

// fromMemory returns the memory copy of key while the disk entry is live.
// A stale copy is evicted.
func (c *LayeredStore) fromMemory(key string) ([]byte, bool) {
	val, found := c.memory.Get(key)
	if !found {
		return nil, false
	}
	if !c.disk.Exists(key) {
		c.memory.Delete(key)
		return nil, false
	}
	return val, true
}

func (c *LayeredStore) promote(key string, data []byte) {
	if remaining, ok := c.disk.Remaining(key); ok {
		c.memory.Set(key, data, min(c.memoryTTL, remaining))
	}
}
