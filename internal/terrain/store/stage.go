package store

import (
	"fmt"
	"strings"
)

// Stage is a step of the generation pipeline. A tile's stage only grows.
type Stage uint8

const (
	Empty Stage = iota
	StructureStarts
	StructureReferences
	Biomes
	Noise
	Surface
	Carvers
	LiquidCarvers
	Features
	Lighting
	Spawn
)

var stageNames = [...]string{
	Empty:               "EMPTY",
	StructureStarts:     "STRUCTURE_STARTS",
	StructureReferences: "STRUCTURE_REFERENCES",
	Biomes:              "BIOMES",
	Noise:               "NOISE",
	Surface:             "SURFACE",
	Carvers:             "CARVERS",
	LiquidCarvers:       "LIQUID_CARVERS",
	Features:            "FEATURES",
	Lighting:            "LIGHTING",
	Spawn:               "SPAWN",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("STAGE_%d", uint8(s))
}

// ParseStage accepts a stage name (case-insensitive) or its index.
func ParseStage(v string) (Stage, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	for i, n := range stageNames {
		if n == v {
			return Stage(i), nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n >= 0 && n < len(stageNames) {
		return Stage(n), nil
	}
	return 0, fmt.Errorf("unknown stage %q", v)
}

// usesRegion reports whether advancing to s reads neighbouring tiles, and so
// requires the dependency cone to be built first.
func (s Stage) usesRegion() bool {
	switch s {
	case StructureReferences, Noise, Surface, Carvers, Features:
		return true
	}
	return false
}
