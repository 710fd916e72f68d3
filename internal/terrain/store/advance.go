package store

import (
	"context"

	"seedcraft.ai/internal/terrain/oracle"
)

const (
	structureSalt = 0x5354
	treeSalt      = 0x5452
	spawnSalt     = 0x5350

	// structureChancePermille is the per-tile chance of a structure start.
	structureChancePermille = 40
	maxStructureRadius      = 3

	caveThreshold = 0.62
)

var structureKinds = [...]string{"ruin", "tower", "camp", "mineshaft"}

// structureStartAt decides, from the seed alone, whether a structure is
// anchored at key.
func structureStartAt(seed int64, key TileKey) *StructureStart {
	h := oracle.Hash2(seed^structureSalt, key.X, key.Z)
	if h%1000 >= structureChancePermille {
		return nil
	}
	return &StructureStart{
		Origin: key,
		Kind:   structureKinds[(h>>10)%uint64(len(structureKinds))],
		Radius: int((h>>20)%maxStructureRadius) + 1,
	}
}

func (s *Session) advance(ctx context.Context, t *Tile, to Stage) error {
	switch to {
	case StructureStarts:
		t.Start = structureStartAt(s.seed, t.Key)
	case StructureReferences:
		s.collectReferences(t)
	case Biomes:
		return s.fillBiomes(t)
	case Noise:
		return s.fillNoise(ctx, t)
	case Surface:
		s.buildSurface(t)
	case Carvers:
		return s.carve(ctx, t)
	case LiquidCarvers:
		// Fluid carving: the oracle places water at generation time, so tiles only
		// advance their stage here.
	case Features:
		s.placeFeatures(t)
	case Lighting:
		computeSkylight(t)
	case Spawn:
		s.pickSpawns(t)
	}
	return nil
}

// collectReferences records the origins of every structure, within the
// radius, whose footprint covers t. Neighbours that have no cached start are
// resolved from the seed.
func (s *Session) collectReferences(t *Tile) {
	t.Refs = t.Refs[:0]
	r := min(s.engine.cfg.Radius, maxStructureRadius)
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			k := TileKey{X: t.Key.X + dx, Z: t.Key.Z + dz}
			var st *StructureStart
			if k == t.Key {
				st = t.Start
			} else if n, ok := s.cache.Get(k); ok && n.stage >= StructureStarts {
				st = n.Start
			} else {
				st = structureStartAt(s.seed, k)
			}
			if st != nil && k != t.Key && st.Origin.Chebyshev(t.Key) <= st.Radius {
				t.Refs = append(t.Refs, st.Origin)
			}
		}
	}
}

func (s *Session) fillBiomes(t *Tile) error {
	t.Biomes = make([]oracle.BiomeID, TileSize*TileSize)
	for lz := 0; lz < TileSize; lz++ {
		for lx := 0; lx < TileSize; lx++ {
			wx, wz := t.Key.X*TileSize+lx, t.Key.Z*TileSize+lz
			b, err := s.engine.oracle.SampleBiome(s.seed, wx, wz)
			if err != nil {
				return &GenerationFailure{Seed: s.seed, X: wx, Z: wz, Err: err}
			}
			t.Biomes[lz*TileSize+lx] = b
		}
	}
	return nil
}

func (s *Session) fillNoise(ctx context.Context, t *Tile) error {
	content := make([]oracle.ContentID, TileSize*TileSize*(t.MaxY-t.MinY))
	for lz := 0; lz < TileSize; lz++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for lx := 0; lx < TileSize; lx++ {
			wx, wz := t.Key.X*TileSize+lx, t.Key.Z*TileSize+lz
			for y := t.MinY; y < t.MaxY; y++ {
				c, err := s.engine.oracle.SampleContent(s.seed, wx, y, wz)
				if err != nil {
					return &GenerationFailure{Seed: s.seed, X: wx, Y: y, Z: wz, Err: err}
				}
				content[t.index(lx, y, lz)] = c
			}
		}
	}
	t.Content = content
	return nil
}

// topSolid returns the highest cell that is neither air nor water.
func (t *Tile) topSolid(lx, lz int) int {
	for y := t.MaxY - 1; y >= t.MinY; y-- {
		c := t.Get(lx, y, lz)
		if !c.Empty() && c != oracle.Water {
			return y
		}
	}
	return t.MinY - 1
}

func (t *Tile) refreshHeights() {
	if t.Heights == nil {
		t.Heights = make([]int16, TileSize*TileSize)
	}
	for lz := 0; lz < TileSize; lz++ {
		for lx := 0; lx < TileSize; lx++ {
			h := t.MinY - 1
			for y := t.MaxY - 1; y >= t.MinY; y-- {
				if !t.Get(lx, y, lz).Empty() {
					h = y
					break
				}
			}
			t.Heights[lz*TileSize+lx] = int16(h)
		}
	}
}

func surfaceLayers(b oracle.BiomeID, underwater bool) (top, filler oracle.ContentID) {
	switch {
	case b == oracle.Desert || b == oracle.Beach:
		return oracle.Sand, oracle.Sand
	case underwater || b == oracle.Ocean || b == oracle.River:
		return oracle.Gravel, oracle.Dirt
	case b == oracle.SnowyPlains:
		return oracle.Snow, oracle.Dirt
	case b == oracle.Mountains:
		return oracle.Stone, oracle.Stone
	}
	return oracle.Grass, oracle.Dirt
}

// buildSurface replaces the top stone layers with biome materials.
func (s *Session) buildSurface(t *Tile) {
	for lz := 0; lz < TileSize; lz++ {
		for lx := 0; lx < TileSize; lx++ {
			y := t.topSolid(lx, lz)
			if y < t.MinY || t.Get(lx, y, lz) != oracle.Stone {
				continue
			}
			underwater := t.Get(lx, y+1, lz) == oracle.Water
			top, filler := surfaceLayers(t.Biome(lx, lz), underwater)
			t.set(lx, y, lz, top)
			for d := 1; d <= 3 && y-d >= t.MinY; d++ {
				if t.Get(lx, y-d, lz) != oracle.Stone {
					break
				}
				t.set(lx, y-d, lz, filler)
			}
		}
	}
	t.refreshHeights()
}

// carve opens caves where CAVE_CHEESE noise is high, staying clear of the
// floor and of the top few cells so the surface does not collapse.
func (s *Session) carve(ctx context.Context, t *Tile) error {
	for lz := 0; lz < TileSize; lz++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for lx := 0; lx < TileSize; lx++ {
			wx, wz := t.Key.X*TileSize+lx, t.Key.Z*TileSize+lz
			top := t.topSolid(lx, lz)
			for y := t.MinY + 5; y < top-4; y++ {
				c := t.Get(lx, y, lz)
				if c.Empty() || c == oracle.Water || c == oracle.Bedrock {
					continue
				}
				v, err := s.engine.oracle.SampleNoise(s.seed, wx, y, wz, oracle.CaveCheese)
				if err != nil {
					return &GenerationFailure{Seed: s.seed, X: wx, Y: y, Z: wz, Err: err}
				}
				if v > caveThreshold {
					t.set(lx, y, lz, oracle.Air)
				}
			}
		}
	}
	t.refreshHeights()
	return nil
}

func treeChance(b oracle.BiomeID) uint64 {
	switch b {
	case oracle.Jungle:
		return 10
	case oracle.Forest:
		return 6
	case oracle.Taiga:
		return 4
	case oracle.Swamp:
		return 2
	case oracle.Plains, oracle.Savanna:
		return 1
	}
	return 0
}

// placeFeatures grows trees on grass. Canopies stay inside the tile.
func (s *Session) placeFeatures(t *Tile) {
	for lz := 2; lz < TileSize-2; lz++ {
		for lx := 2; lx < TileSize-2; lx++ {
			wx, wz := t.Key.X*TileSize+lx, t.Key.Z*TileSize+lz
			h := oracle.Hash2(s.seed^treeSalt, wx, wz)
			if h%100 >= treeChance(t.Biome(lx, lz)) {
				continue
			}
			y := t.topSolid(lx, lz)
			if y < t.MinY || t.Get(lx, y, lz) != oracle.Grass || !t.Get(lx, y+1, lz).Empty() {
				continue
			}
			trunk := 4 + int((h>>8)%3)
			if y+trunk+2 >= t.MaxY {
				continue
			}
			t.set(lx, y, lz, oracle.Dirt)
			for d := 1; d <= trunk; d++ {
				t.set(lx, y+d, lz, oracle.Log)
			}
			crown := y + trunk
			for dy := -1; dy <= 1; dy++ {
				r := 2
				if dy == 1 {
					r = 1
				}
				for dz := -r; dz <= r; dz++ {
					for dx := -r; dx <= r; dx++ {
						if t.Get(lx+dx, crown+dy, lz+dz).Empty() {
							t.set(lx+dx, crown+dy, lz+dz, oracle.Leaves)
						}
					}
				}
			}
		}
	}
	t.refreshHeights()
}

// computeSkylight records, per column, the lowest cell reached by skylight.
func computeSkylight(t *Tile) {
	t.Skylight = make([]int16, TileSize*TileSize)
	for lz := 0; lz < TileSize; lz++ {
		for lx := 0; lx < TileSize; lx++ {
			floor := t.MinY
			for y := t.MaxY - 1; y >= t.MinY; y-- {
				if t.Get(lx, y, lz).Opaque() {
					floor = y + 1
					break
				}
			}
			t.Skylight[lz*TileSize+lx] = int16(floor)
		}
	}
}

// pickSpawns keeps up to four lit grass cells chosen by hash.
func (s *Session) pickSpawns(t *Tile) {
	t.Spawns = t.Spawns[:0]
	for lz := 0; lz < TileSize && len(t.Spawns) < 4; lz++ {
		for lx := 0; lx < TileSize && len(t.Spawns) < 4; lx++ {
			wx, wz := t.Key.X*TileSize+lx, t.Key.Z*TileSize+lz
			if oracle.Hash2(s.seed^spawnSalt, wx, wz)%8 != 0 {
				continue
			}
			y := t.topSolid(lx, lz)
			if y < t.MinY || t.Get(lx, y, lz) != oracle.Grass {
				continue
			}
			if t.Skylight != nil && int(t.Skylight[lz*TileSize+lx]) > y+1 {
				continue
			}
			t.Spawns = append(t.Spawns, SpawnPoint{X: wx, Y: y + 1, Z: wz})
		}
	}
}
