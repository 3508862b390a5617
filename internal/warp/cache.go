package warp

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/cjeanneret/skydb/internal/debug"
	"github.com/cjeanneret/skydb/internal/envmap"
)

// DefaultCacheCapacity is the number of resolutions kept by NewCache(0).
const DefaultCacheCapacity = 8

type cacheKey struct {
	layout envmap.Layout
	res    envmap.Resolution
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s/%s", k.layout, k.res)
}

// Cache keeps per-pixel world directions keyed by layout and resolution.
// Entries are shared: callers must not modify the returned WorldCoords.
// It is safe for concurrent use; concurrent misses on one key compute once.
type Cache struct {
	entries  *lru.Cache[cacheKey, *envmap.WorldCoords]
	group    singleflight.Group
	computed atomic.Int64
}

// NewCache creates a cache holding at most capacity resolutions
// (least recently used first out). capacity <= 0 selects DefaultCacheCapacity.
func NewCache(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	entries, err := lru.New[cacheKey, *envmap.WorldCoords](capacity)
	if err != nil {
		return nil, fmt.Errorf("create world-coordinate cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// Get returns the world coordinates for img's resolution, computing them with
// img.WorldCoordinates on a miss.
func (c *Cache) Get(img Image) (*envmap.WorldCoords, error) {
	key := cacheKey{layout: img.Format(), res: img.Resolution()}
	if wc, ok := c.entries.Get(key); ok {
		debug.Trace("world-coordinate cache hit %s", key)
		return wc, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		if wc, ok := c.entries.Get(key); ok {
			return wc, nil
		}
		debug.Trace("world-coordinate cache miss %s", key)
		wc, err := img.WorldCoordinates()
		if err != nil {
			return nil, err
		}
		if n := key.res.Pixels(); len(wc.Dirs) != n || len(wc.Valid) != n {
			return nil, fmt.Errorf("world coordinates for %s have %d directions, want %d", key, len(wc.Dirs), n)
		}
		c.computed.Add(1)
		c.entries.Add(key, wc)
		return wc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*envmap.WorldCoords), nil
}

// Len returns the number of cached resolutions.
func (c *Cache) Len() int { return c.entries.Len() }

// Computed returns how many times world coordinates were computed.
func (c *Cache) Computed() int64 { return c.computed.Load() }

// Purge drops every entry.
func (c *Cache) Purge() { c.entries.Purge() }
