package store

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"seedcraft.ai/internal/terrain/oracle"
)

// Config bounds what an engine generates.
type Config struct {
	MinY int // inclusive
	MaxY int // exclusive

	// TTL is the tile inactivity expiry. Zero uses DefaultTTL; negative disables expiry.
	TTL time.Duration
	// MaxStage is the highest stage sessions may be asked for.
	MaxStage Stage
	// Radius bounds the dependency cone, in tiles.
	Radius int

	// Now overrides the cache clock (tests).
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		MinY:     -64,
		MaxY:     320,
		TTL:      DefaultTTL,
		MaxStage: Features,
		Radius:   8,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.MaxY <= c.MinY {
		c.MinY, c.MaxY = d.MinY, d.MaxY
	}
	if c.TTL == 0 {
		c.TTL = d.TTL
	}
	if c.MaxStage == Empty || c.MaxStage > Spawn {
		c.MaxStage = d.MaxStage
	}
	if c.Radius <= 0 {
		c.Radius = d.Radius
	}
}

// Engine creates seed-scoped generation sessions over one oracle.
type Engine struct {
	oracle oracle.Oracle
	cfg    Config
}

func NewEngine(o oracle.Oracle, cfg Config) *Engine {
	cfg.normalize()
	return &Engine{oracle: o, cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// NewSession starts a generation session for seed. The caller owns it and
// should Clear it when done with the seed.
func (e *Engine) NewSession(seed int64) *Session {
	oracle.Initialize()
	return &Session{
		engine: e,
		seed:   seed,
		cache:  NewCache(e.cfg.TTL, e.cfg.Now),
	}
}

// Session holds all generated tiles for one seed. Methods are safe for
// concurrent use; generation itself is serialized.
type Session struct {
	engine *Engine
	seed   int64
	cache  *Cache

	mu        sync.Mutex
	lastSweep time.Time
}

func (s *Session) Seed() int64 { return s.seed }

func (s *Session) Cache() *Cache { return s.cache }

func (s *Session) MaxStage() Stage { return s.engine.cfg.MaxStage }

// Bounds returns the vertical range [minY, maxY).
func (s *Session) Bounds() (minY, maxY int) { return s.engine.cfg.MinY, s.engine.cfg.MaxY }

// EnsureStage returns the tile at key with Stage() >= target, generating it
// and its dependency cone as needed.
func (s *Session) EnsureStage(ctx context.Context, key TileKey, target Stage) (*Tile, error) {
	if target > s.engine.cfg.MaxStage {
		return nil, &UnsupportedStageError{Stage: target, Max: s.engine.cfg.MaxStage}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSweep()
	return s.ensure(ctx, key, target, true)
}

func (s *Session) maybeSweep() {
	ttl := s.engine.cfg.TTL
	if ttl <= 0 {
		return
	}
	now := s.cache.now()
	if now.Sub(s.lastSweep) < ttl {
		return
	}
	s.lastSweep = now
	s.cache.Sweep()
}

func (s *Session) tile(key TileKey) *Tile {
	if t, ok := s.cache.Get(key); ok {
		return t
	}
	t := newTile(key, s.engine.cfg.MinY, s.engine.cfg.MaxY)
	s.cache.Put(t)
	return t
}

// ensure advances one tile stage by stage. With cascade set, each region
// stage first promotes neighbours at Chebyshev distance d to (T-1)-d, without
// cascade, so fan-out stays one hop deep.
func (s *Session) ensure(ctx context.Context, key TileKey, target Stage, cascade bool) (*Tile, error) {
	t := s.tile(key)
	for t.stage < target {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := t.stage + 1
		if cascade && next.usesRegion() {
			if err := s.promoteRegion(ctx, key, next); err != nil {
				return nil, err
			}
		}
		if err := s.advance(ctx, t, next); err != nil {
			return nil, err
		}
		t.stage = next

		if next == Features && cascade {
			if err := s.promoteDependents(ctx, t); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

func (s *Session) promoteRegion(ctx context.Context, center TileKey, target Stage) error {
	r := s.engine.cfg.Radius
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			if dx == 0 && dz == 0 {
				continue
			}
			k := TileKey{X: center.X + dx, Z: center.Z + dz}
			need := int(target) - 1 - center.Chebyshev(k)
			if need <= 0 {
				continue
			}
			if _, err := s.ensure(ctx, k, Stage(need), false); err != nil {
				return err
			}
		}
	}
	return nil
}

// promoteDependents brings structure origins referenced by t and the 3x3
// neighbourhood of t to FEATURES, without cascading.
func (s *Session) promoteDependents(ctx context.Context, t *Tile) error {
	for _, ref := range t.Refs {
		if ref == t.Key {
			continue
		}
		if _, err := s.ensure(ctx, ref, Features, false); err != nil {
			return err
		}
	}
	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dz == 0 {
				continue
			}
			k := TileKey{X: t.Key.X + dx, Z: t.Key.Z + dz}
			if _, err := s.ensure(ctx, k, Features, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// ContentAt returns the content of a world cell after the tile holding it has
// reached stage.
func (s *Session) ContentAt(ctx context.Context, x, y, z int, stage Stage) (oracle.ContentID, error) {
	minY, maxY := s.Bounds()
	if y < minY || y >= maxY {
		return oracle.Air, nil
	}
	t, err := s.EnsureStage(ctx, TileOf(x, z), stage)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.Get(oracle.Mod(x, TileSize), y, oracle.Mod(z, TileSize)), nil
}

// ColumnHeight scans column (x, z) down from top, after its tile has reached
// stage, and returns the first non-air cell. An all-air column reports the
// lower bound.
func (s *Session) ColumnHeight(ctx context.Context, x, z, top int, stage Stage) (int, error) {
	t, err := s.EnsureStage(ctx, TileOf(x, z), stage)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if top >= t.MaxY {
		top = t.MaxY - 1
	}
	lx, lz := oracle.Mod(x, TileSize), oracle.Mod(z, TileSize)
	for y := top; y >= t.MinY; y-- {
		if !t.Get(lx, y, lz).Empty() {
			return y, nil
		}
	}
	return t.MinY, nil
}

// Noise samples a noise channel directly from the oracle.
func (s *Session) Noise(x, y, z int, ch oracle.NoiseChannel) (float64, error) {
	v, err := s.engine.oracle.SampleNoise(s.seed, x, y, z, ch)
	if err != nil {
		return 0, &GenerationFailure{Seed: s.seed, X: x, Y: y, Z: z, Err: err}
	}
	return v, nil
}

// Biome samples the biome of a column directly from the oracle.
func (s *Session) Biome(x, z int) (oracle.BiomeID, error) {
	b, err := s.engine.oracle.SampleBiome(s.seed, x, z)
	if err != nil {
		return 0, &GenerationFailure{Seed: s.seed, X: x, Z: z, Err: err}
	}
	return b, nil
}

// Clear drops every cached tile and hints the runtime to reclaim them.
func (s *Session) Clear() {
	s.Discard()
	runtime.GC()
}

// Discard drops every cached tile without the reclamation hint. Search workers
// call it once per seed.
func (s *Session) Discard() {
	s.mu.Lock()
	s.cache.Clear()
	s.mu.Unlock()
}

func (s *Session) String() string {
	return fmt.Sprintf("session(seed=%d tiles=%d)", s.seed, s.cache.Len())
}
