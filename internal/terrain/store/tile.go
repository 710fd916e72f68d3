package store

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"seedcraft.ai/internal/terrain/oracle"
)

// TileSize is the horizontal edge of a tile in cells. Tiles span the full
// vertical range of the engine.
const TileSize = 16

type TileKey struct {
	X int
	Z int
}

// TileOf returns the key of the tile holding world column (x, z).
func TileOf(x, z int) TileKey {
	return TileKey{X: oracle.FloorDiv(x, TileSize), Z: oracle.FloorDiv(z, TileSize)}
}

// Chebyshev is the chessboard distance between two tiles.
func (k TileKey) Chebyshev(o TileKey) int {
	dx, dz := k.X-o.X, k.Z-o.Z
	if dx < 0 {
		dx = -dx
	}
	if dz < 0 {
		dz = -dz
	}
	if dx > dz {
		return dx
	}
	return dz
}

// StructureStart is a multi-tile structure anchored at Origin whose footprint
// covers every tile within Radius (Chebyshev) of it.
type StructureStart struct {
	Origin TileKey
	Kind   string
	Radius int
}

// SpawnPoint is a world cell suitable for spawning.
type SpawnPoint struct {
	X, Y, Z int
}

// Tile is the cached generation state of one column tile. Fields populated by
// a stage are valid once Stage() has reached it.
type Tile struct {
	Key  TileKey
	MinY int
	MaxY int // exclusive

	Content  []oracle.ContentID // from NOISE; index (y-MinY)*256 + z*16 + x
	Biomes   []oracle.BiomeID   // from BIOMES; index z*16 + x
	Heights  []int16            // from SURFACE; highest non-empty cell, MinY-1 if none
	Skylight []int16            // from LIGHTING; lowest y reached by skylight

	Start  *StructureStart // from STRUCTURE_STARTS
	Refs   []TileKey       // from STRUCTURE_REFERENCES; origins of covering structures
	Spawns []SpawnPoint    // from SPAWN

	stage      Stage
	lastAccess time.Time
}

func newTile(key TileKey, minY, maxY int) *Tile {
	return &Tile{Key: key, MinY: minY, MaxY: maxY}
}

func (t *Tile) Stage() Stage { return t.stage }

// LastAccess is the last time the cache handed the tile out.
func (t *Tile) LastAccess() time.Time { return t.lastAccess }

func (t *Tile) index(lx, y, lz int) int {
	return (y-t.MinY)*TileSize*TileSize + lz*TileSize + lx
}

func (t *Tile) inY(y int) bool { return y >= t.MinY && y < t.MaxY }

// Get returns the content at local column (lx, lz) and world y. Cells outside
// the vertical range, or before NOISE, read as air.
func (t *Tile) Get(lx, y, lz int) oracle.ContentID {
	if t.Content == nil || !t.inY(y) {
		return oracle.Air
	}
	return t.Content[t.index(lx, y, lz)]
}

func (t *Tile) set(lx, y, lz int, c oracle.ContentID) {
	if t.Content == nil || !t.inY(y) {
		return
	}
	t.Content[t.index(lx, y, lz)] = c
}

// Biome returns the biome of local column (lx, lz).
func (t *Tile) Biome(lx, lz int) oracle.BiomeID {
	if t.Biomes == nil {
		return oracle.Plains
	}
	return t.Biomes[lz*TileSize+lx]
}

// Height returns the highest non-empty cell of local column (lx, lz).
func (t *Tile) Height(lx, lz int) int {
	if t.Heights == nil {
		return t.MinY - 1
	}
	return int(t.Heights[lz*TileSize+lx])
}

// Digest hashes the generated payload. Two tiles generated for the same seed
// and stage have equal digests.
func (t *Tile) Digest() [32]byte {
	h := sha256.New()
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(t.stage))
	h.Write(tmp[:])
	for _, v := range t.Content {
		binary.LittleEndian.PutUint16(tmp[:2], uint16(v))
		h.Write(tmp[:2])
	}
	for _, b := range t.Biomes {
		h.Write([]byte{byte(b)})
	}
	for _, r := range t.Refs {
		binary.LittleEndian.PutUint32(tmp[:4], uint32(int32(r.X)))
		binary.LittleEndian.PutUint32(tmp[4:], uint32(int32(r.Z)))
		h.Write(tmp[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
