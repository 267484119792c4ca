package cache

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// ResourceCache is a byte-bounded LRU store of decoded payloads.
//
// It is not safe for concurrent use: a single goroutine, the render loop,
// owns it. Retrieval workers never touch it directly.
type ResourceCache[K comparable, V any] struct {
	name      string
	capacity  int64
	totalSize int64
	lru       *simplelru.LRU[K, entry[V]]
}

type entry[V any] struct {
	value V
	size  int64
}

// NewResourceCache creates a cache holding at most capacity bytes.
func NewResourceCache[K comparable, V any](name string, capacity int64) (*ResourceCache[K, V], error) {
	if capacity <= 0 {
		return nil, errors.New("resource cache capacity must be positive").
			WithTag("cache", name).
			WithTag("capacity", capacity)
	}

	c := &ResourceCache[K, V]{
		name:     name,
		capacity: capacity,
	}

	lru, err := simplelru.NewLRU[K, entry[V]](math.MaxInt32, c.onRemove)
	if err != nil {
		return nil, errors.New("creating lru failed").
			WithTag("cache", name).
			Wrap(err)
	}
	c.lru = lru
	return c, nil
}

func (c *ResourceCache[K, V]) onRemove(_ K, e entry[V]) {
	c.totalSize -= e.size
}

// Get returns the payload stored under key and marks it as most recently
// used.
func (c *ResourceCache[K, V]) Get(key K) (V, bool) {
	e, ok := c.lru.Get(key)
	instrumentLookup(c.name, ok)
	return e.value, ok
}

// Contains reports whether key is resident without updating its recency.
func (c *ResourceCache[K, V]) Contains(key K) bool {
	return c.lru.Contains(key)
}

// Put stores value under key, evicting least recently used entries until
// the cache holds at most its capacity. An entry larger than the whole
// capacity is not stored.
func (c *ResourceCache[K, V]) Put(key K, value V, size int64) bool {
	if size < 0 {
		size = 0
	}
	if size > c.capacity {
		logs.WithTag("cache", c.name).
			WithTag("size", size).
			WithTag("capacity", c.capacity).
			Warn("payload larger than cache capacity")
		return false
	}

	c.lru.Remove(key)

	for c.totalSize+size > c.capacity {
		evicted, _, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		instrumentEviction(c.name)
		logs.WithTag("cache", c.name).
			WithTag("key", evicted).
			Debug("evicted")
	}

	c.lru.Add(key, entry[V]{value: value, size: size})
	c.totalSize += size
	instrumentSize(c.name, c.totalSize)
	return true
}

// Remove deletes key from the cache.
func (c *ResourceCache[K, V]) Remove(key K) bool {
	ok := c.lru.Remove(key)
	instrumentSize(c.name, c.totalSize)
	return ok
}

// Keys returns the resident keys from least to most recently used.
func (c *ResourceCache[K, V]) Keys() []K {
	return c.lru.Keys()
}

func (c *ResourceCache[K, V]) Len() int {
	return c.lru.Len()
}

func (c *ResourceCache[K, V]) TotalSize() int64 {
	return c.totalSize
}

func (c *ResourceCache[K, V]) Capacity() int64 {
	return c.capacity
}

func (c *ResourceCache[K, V]) Name() string {
	return c.name
}

// Purge removes every entry.
func (c *ResourceCache[K, V]) Purge() {
	c.lru.Purge()
	c.totalSize = 0
	instrumentSize(c.name, 0)
}
