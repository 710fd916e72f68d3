// Package oracle defines the terrain capability the generation engine consumes
// and ships a self-contained simplex implementation of it.
package oracle

import (
	"fmt"
	"strings"
	"sync"
)

// Oracle produces per-cell terrain data for a seed. Every method must be a pure
// function of its arguments; implementations may cache internally but must be
// safe for concurrent use.
type Oracle interface {
	SampleNoise(seed int64, x, y, z int, ch NoiseChannel) (float64, error)
	SampleContent(seed int64, x, y, z int) (ContentID, error)
	SampleBiome(seed int64, x, z int) (BiomeID, error)
}

// ContentID is a block/material palette id.
type ContentID uint16

const (
	Air ContentID = iota
	Stone
	Dirt
	Grass
	Sand
	Gravel
	Water
	Bedrock
	Log
	Leaves
	CoalOre
	IronOre
	Snow
	contentCount
)

var contentNames = [contentCount]string{
	Air:     "AIR",
	Stone:   "STONE",
	Dirt:    "DIRT",
	Grass:   "GRASS",
	Sand:    "SAND",
	Gravel:  "GRAVEL",
	Water:   "WATER",
	Bedrock: "BEDROCK",
	Log:     "LOG",
	Leaves:  "LEAVES",
	CoalOre: "COAL_ORE",
	IronOre: "IRON_ORE",
	Snow:    "SNOW",
}

func (c ContentID) String() string {
	if c < contentCount {
		return contentNames[c]
	}
	return fmt.Sprintf("CONTENT_%d", uint16(c))
}

// Empty reports whether the cell counts as unoccupied for surface scans.
func (c ContentID) Empty() bool { return c == Air }

// Opaque reports whether the cell blocks skylight.
func (c ContentID) Opaque() bool {
	switch c {
	case Air, Water, Leaves:
		return false
	}
	return true
}

// BiomeID identifies a biome.
type BiomeID uint8

const (
	Plains BiomeID = iota
	Forest
	Desert
	Ocean
	Mountains
	Taiga
	Swamp
	Jungle
	Savanna
	SnowyPlains
	Beach
	River
	biomeCount
)

var biomeNames = [biomeCount]string{
	Plains:      "PLAINS",
	Forest:      "FOREST",
	Desert:      "DESERT",
	Ocean:       "OCEAN",
	Mountains:   "MOUNTAINS",
	Taiga:       "TAIGA",
	Swamp:       "SWAMP",
	Jungle:      "JUNGLE",
	Savanna:     "SAVANNA",
	SnowyPlains: "SNOWY_PLAINS",
	Beach:       "BEACH",
	River:       "RIVER",
}

func (b BiomeID) String() string {
	if b < biomeCount {
		return biomeNames[b]
	}
	return fmt.Sprintf("BIOME_%d", uint8(b))
}

// Biomes lists every known biome in id order.
func Biomes() []BiomeID {
	out := make([]BiomeID, 0, biomeCount)
	for b := BiomeID(0); b < biomeCount; b++ {
		out = append(out, b)
	}
	return out
}

var (
	initOnce    sync.Once
	biomeByName map[string]BiomeID
	chanByName  map[string]NoiseChannel
)

// Initialize builds the name registries. It is safe to call from any number of
// goroutines; only the first call does work.
func Initialize() {
	initOnce.Do(func() {
		biomeByName = make(map[string]BiomeID, biomeCount)
		for b := BiomeID(0); b < biomeCount; b++ {
			biomeByName[biomeNames[b]] = b
		}
		chanByName = make(map[string]NoiseChannel, channelCount)
		for c := NoiseChannel(0); c < channelCount; c++ {
			chanByName[channelNames[c]] = c
		}
	})
}

// ParseBiome resolves a biome by name (case-insensitive).
func ParseBiome(s string) (BiomeID, error) {
	Initialize()
	if b, ok := biomeByName[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return b, nil
	}
	return 0, fmt.Errorf("unknown biome %q", s)
}
