package oracle

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

const (
	// SeaLevel is the highest water cell in open terrain.
	SeaLevel = 63
	// FloorY is the lowest cell and is always bedrock.
	FloorY = -64

	defaultSeedCapacity = 16
)

// ErrUnknownChannel is returned for channel ids outside the registry.
var ErrUnknownChannel = errors.New("unknown noise channel")

// seedFields holds one noise field per channel for a single seed.
type seedFields struct {
	seed   int64
	fields [channelCount]*field
}

func newSeedFields(seed int64) *seedFields {
	sf := &seedFields{seed: seed}
	for c := NoiseChannel(0); c < channelCount; c++ {
		sf.fields[c] = newField(Salt(seed, uint64(c)+1))
	}
	return sf
}

// Simplex is the built-in oracle: layered simplex noise per channel, a height
// field driven by continentalness, erosion and peaks, and a climate biome map.
// Per-seed permutation tables are kept in a small FIFO cache so repeated calls
// for the same seed do not rebuild them.
type Simplex struct {
	mu       sync.Mutex
	capacity int
	bySeed   map[int64]*seedFields
	order    []int64
}

// NewSimplex returns an oracle caching tables for up to capacity seeds.
// capacity <= 0 uses a default.
func NewSimplex(capacity int) *Simplex {
	if capacity <= 0 {
		capacity = defaultSeedCapacity
	}
	Initialize()
	return &Simplex{
		capacity: capacity,
		bySeed:   make(map[int64]*seedFields, capacity),
	}
}

func (s *Simplex) tables(seed int64) *seedFields {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sf, ok := s.bySeed[seed]; ok {
		return sf
	}
	sf := newSeedFields(seed)
	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.bySeed, oldest)
	}
	s.bySeed[seed] = sf
	s.order = append(s.order, seed)
	return sf
}

func channelScale(c NoiseChannel) (scale float64, octaves int) {
	switch c {
	case Temperature, Humidity, Continentalness, Erosion, Weirdness, Depth:
		return 1.0 / 512, 4
	case CaveCheese, CaveLayer, CaveEntrance:
		return 1.0 / 48, 2
	case Spaghetti2D, Spaghetti3D, Spaghetti3DFirst, Spaghetti3DSecond,
		SpaghettiRoughness, SpaghettiRoughnessModulator:
		return 1.0 / 32, 1
	case TerrainPeaks, TerrainOffset, TerrainFactor, Jagged:
		return 1.0 / 256, 3
	}
	return 1.0 / 96, 2
}

func (sf *seedFields) sample(x, y, z int, c NoiseChannel) float64 {
	f := sf.fields[c]
	scale, oct := channelScale(c)
	if c.Planar() {
		return f.octave2(float64(x)*scale, float64(z)*scale, oct, 0.5)
	}
	return f.octave3(float64(x)*scale, float64(y)*scale, float64(z)*scale, oct, 0.5)
}

// SampleNoise returns the channel's value at the cell.
func (s *Simplex) SampleNoise(seed int64, x, y, z int, ch NoiseChannel) (float64, error) {
	if ch >= channelCount {
		return 0, fmt.Errorf("%w: %d", ErrUnknownChannel, ch)
	}
	return s.tables(seed).sample(x, y, z, ch), nil
}

// SurfaceHeight is the terrain height before surface decoration or carving.
func (s *Simplex) SurfaceHeight(seed int64, x, z int) int {
	return s.tables(seed).surface(x, z)
}

func (sf *seedFields) surface(x, z int) int {
	c := sf.sample(x, 0, z, Continentalness)
	e := sf.sample(x, 0, z, Erosion)
	p := sf.sample(x, 0, z, TerrainPeaks)
	h := float64(SeaLevel+1) + c*32 + (1-math.Abs(e))*math.Max(p, 0)*48
	if h < FloorY+8 {
		h = FloorY + 8
	}
	if h > 250 {
		h = 250
	}
	return int(math.Floor(h))
}

// SampleContent returns raw terrain: bedrock floor, stone with ore pockets up
// to the surface, water up to sea level, air above.
func (s *Simplex) SampleContent(seed int64, x, y, z int) (ContentID, error) {
	if y <= FloorY {
		return Bedrock, nil
	}
	sf := s.tables(seed)
	h := sf.surface(x, z)
	if y > h {
		if y <= SeaLevel {
			return Water, nil
		}
		return Air, nil
	}
	if y < FloorY+4 && Hash3(seed, x, y, z)%4 == 0 {
		return Bedrock, nil
	}
	if y < h-3 {
		r := Hash3(seed^0x4f7265, x, y, z)
		switch {
		case y < 16 && r%211 == 0:
			return IronOre, nil
		case r%97 == 0:
			return CoalOre, nil
		}
	}
	return Stone, nil
}

// SampleBiome classifies the column from climate noise at elevation 0.
func (s *Simplex) SampleBiome(seed int64, x, z int) (BiomeID, error) {
	sf := s.tables(seed)
	c := sf.sample(x, 0, z, Continentalness)
	t := sf.sample(x, 0, z, Temperature)
	hu := sf.sample(x, 0, z, Humidity)
	w := sf.sample(x, 0, z, Weirdness)
	p := sf.sample(x, 0, z, TerrainPeaks)
	switch {
	case c < -0.35:
		return Ocean, nil
	case c < -0.28:
		return Beach, nil
	case math.Abs(w) < 0.03:
		return River, nil
	case c > 0.25 && p > 0.45:
		return Mountains, nil
	case t < -0.4:
		if hu > 0 {
			return Taiga, nil
		}
		return SnowyPlains, nil
	case t > 0.4:
		switch {
		case hu < -0.1:
			return Desert, nil
		case hu > 0.3:
			return Jungle, nil
		}
		return Savanna, nil
	case hu > 0.35:
		return Swamp, nil
	case hu > 0:
		return Forest, nil
	}
	return Plains, nil
}
