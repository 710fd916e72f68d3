package oracle

import (
	"fmt"
	"strings"
)

// NoiseChannel names one scalar noise field the oracle can sample.
type NoiseChannel uint8

const (
	Temperature NoiseChannel = iota
	Humidity
	Continentalness
	Erosion
	Weirdness
	Depth
	ShiftX
	ShiftY
	ShiftZ
	Terrain
	Island
	Jagged
	AquiferBarrier
	AquiferFluidLevelFloodedness
	AquiferFluidLevelSpread
	AquiferLava
	Pillar
	PillarRareness
	PillarThickness
	Spaghetti2D
	Spaghetti2DElevation
	Spaghetti2DModulator
	Spaghetti2DThickness
	Spaghetti3D
	Spaghetti3DFirst
	Spaghetti3DSecond
	Spaghetti3DRarity
	Spaghetti3DThickness
	SpaghettiRoughness
	SpaghettiRoughnessModulator
	CaveEntrance
	CaveLayer
	CaveCheese
	TerrainPeaks
	TerrainOffset
	TerrainFactor
	OreGap
	channelCount
)

var channelNames = [channelCount]string{
	Temperature:                  "TEMPERATURE",
	Humidity:                     "HUMIDITY",
	Continentalness:              "CONTINENTALNESS",
	Erosion:                      "EROSION",
	Weirdness:                    "WEIRDNESS",
	Depth:                        "DEPTH",
	ShiftX:                       "SHIFT_X",
	ShiftY:                       "SHIFT_Y",
	ShiftZ:                       "SHIFT_Z",
	Terrain:                      "TERRAIN",
	Island:                       "ISLAND",
	Jagged:                       "JAGGED",
	AquiferBarrier:               "AQUIFER_BARRIER",
	AquiferFluidLevelFloodedness: "AQUIFER_FLUID_LEVEL_FLOODEDNESS",
	AquiferFluidLevelSpread:      "AQUIFER_FLUID_LEVEL_SPREAD",
	AquiferLava:                  "AQUIFER_LAVA",
	Pillar:                       "PILLAR",
	PillarRareness:               "PILLAR_RARENESS",
	PillarThickness:              "PILLAR_THICKNESS",
	Spaghetti2D:                  "SPAGHETTI_2D",
	Spaghetti2DElevation:         "SPAGHETTI_2D_ELEVATION",
	Spaghetti2DModulator:         "SPAGHETTI_2D_MODULATOR",
	Spaghetti2DThickness:         "SPAGHETTI_2D_THICKNESS",
	Spaghetti3D:                  "SPAGHETTI_3D",
	Spaghetti3DFirst:             "SPAGHETTI_3D_FIRST",
	Spaghetti3DSecond:            "SPAGHETTI_3D_SECOND",
	Spaghetti3DRarity:            "SPAGHETTI_3D_RARITY",
	Spaghetti3DThickness:         "SPAGHETTI_3D_THICKNESS",
	SpaghettiRoughness:           "SPAGHETTI_ROUGHNESS",
	SpaghettiRoughnessModulator:  "SPAGHETTI_ROUGHNESS_MODULATOR",
	CaveEntrance:                 "CAVE_ENTRANCE",
	CaveLayer:                    "CAVE_LAYER",
	CaveCheese:                   "CAVE_CHEESE",
	TerrainPeaks:                 "TERRAIN_PEAKS",
	TerrainOffset:                "TERRAIN_OFFSET",
	TerrainFactor:                "TERRAIN_FACTOR",
	OreGap:                       "ORE_GAP",
}

func (c NoiseChannel) String() string {
	if c < channelCount {
		return channelNames[c]
	}
	return fmt.Sprintf("CHANNEL_%d", uint8(c))
}

// Stride is the native horizontal sampling resolution of the channel in cells.
// Climate parameters live on a 4-cell grid; detail channels are per cell.
func (c NoiseChannel) Stride() int {
	switch c {
	case Temperature, Humidity, Continentalness, Erosion, Weirdness, Depth:
		return 4
	}
	return 1
}

// Planar reports whether the channel ignores the y coordinate.
func (c NoiseChannel) Planar() bool {
	switch c {
	case Temperature, Humidity, Continentalness, Erosion, Weirdness,
		Jagged, TerrainPeaks, TerrainOffset, TerrainFactor, Spaghetti2DElevation:
		return true
	}
	return false
}

// Channels lists every channel in id order.
func Channels() []NoiseChannel {
	out := make([]NoiseChannel, 0, channelCount)
	for c := NoiseChannel(0); c < channelCount; c++ {
		out = append(out, c)
	}
	return out
}

// ParseNoiseChannel resolves a channel by name (case-insensitive).
func ParseNoiseChannel(s string) (NoiseChannel, error) {
	Initialize()
	if c, ok := chanByName[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("unknown noise channel %q", s)
}
