package store

import (
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long an untouched tile stays cached.
const DefaultTTL = 30 * time.Second

// Cache maps tile keys to tiles with time-based expiry. Expired tiles are
// evicted when accessed and by Sweep.
type Cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	tiles map[TileKey]*Tile
}

// NewCache returns an empty cache. ttl <= 0 disables expiry; a nil clock uses
// time.Now.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now, tiles: map[TileKey]*Tile{}}
}

func (c *Cache) expired(t *Tile, now time.Time) bool {
	return c.ttl > 0 && now.Sub(t.lastAccess) > c.ttl
}

// IsExpired reports whether the tile has outlived the TTL.
func (c *Cache) IsExpired(t *Tile) bool {
	return c.expired(t, c.now())
}

// Get returns a live tile and refreshes its access time.
func (c *Cache) Get(k TileKey) (*Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tiles[k]
	if !ok {
		return nil, false
	}
	now := c.now()
	if c.expired(t, now) {
		delete(c.tiles, k)
		return nil, false
	}
	t.lastAccess = now
	return t, true
}

func (c *Cache) Put(t *Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.lastAccess = c.now()
	c.tiles[t.Key] = t
}

// Sweep evicts every expired tile and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, t := range c.tiles {
		if c.expired(t, now) {
			delete(c.tiles, k)
			n++
		}
	}
	return n
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiles = map[TileKey]*Tile{}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tiles)
}

// Keys returns the cached keys in (X, Z) order.
func (c *Cache) Keys() []TileKey {
	c.mu.Lock()
	keys := make([]TileKey, 0, len(c.tiles))
	for k := range c.tiles {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		return keys[i].Z < keys[j].Z
	})
	return keys
}
