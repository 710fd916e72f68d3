package condition

import (
	"fmt"

	"seedcraft.ai/internal/terrain/oracle"
	"seedcraft.ai/internal/terrain/store"
)

// Record is the flat, serializable form of a Condition. Fields a kind does not
// use stay zero.
type Record struct {
	Kind       Kind    `json:"kind" yaml:"kind"`
	Channel    string  `json:"channel,omitempty" yaml:"channel,omitempty"`
	Biome      string  `json:"biome,omitempty" yaml:"biome,omitempty"`
	MinX       int     `json:"min_x" yaml:"min_x"`
	MaxX       int     `json:"max_x" yaml:"max_x"`
	MinY       int     `json:"min_y,omitempty" yaml:"min_y,omitempty"`
	MaxY       int     `json:"max_y,omitempty" yaml:"max_y,omitempty"`
	MinZ       int     `json:"min_z" yaml:"min_z"`
	MaxZ       int     `json:"max_z" yaml:"max_z"`
	MinHeight  int     `json:"min_height,omitempty" yaml:"min_height,omitempty"`
	MaxHeight  int     `json:"max_height,omitempty" yaml:"max_height,omitempty"`
	Threshold  float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Comparator string  `json:"comparator,omitempty" yaml:"comparator,omitempty"`
	Combinator string  `json:"combinator,omitempty" yaml:"combinator,omitempty"`
	Stage      string  `json:"stage,omitempty" yaml:"stage,omitempty"`
}

// FromRecord rebuilds a Condition.
func FromRecord(r Record) (Condition, error) {
	comb, err := ParseCombinator(r.Combinator)
	if err != nil {
		return nil, err
	}
	switch r.Kind {
	case KindNoise:
		ch, err := oracle.ParseNoiseChannel(r.Channel)
		if err != nil {
			return nil, err
		}
		cmp, err := ParseComparator(r.Comparator)
		if err != nil {
			return nil, err
		}
		return Noise{
			Channel:    ch,
			Region:     Region{MinX: r.MinX, MaxX: r.MaxX, MinY: r.MinY, MaxY: r.MaxY, MinZ: r.MinZ, MaxZ: r.MaxZ},
			Threshold:  r.Threshold,
			Comparator: cmp,
			Combinator: comb,
		}, nil
	case KindHeight:
		h := Height{
			MinX: r.MinX, MaxX: r.MaxX,
			MinZ: r.MinZ, MaxZ: r.MaxZ,
			MinHeight:  r.MinHeight,
			MaxHeight:  r.MaxHeight,
			Combinator: comb,
		}
		if r.Combinator == "" {
			h.Combinator = Any
		}
		if r.Stage != "" {
			st, err := store.ParseStage(r.Stage)
			if err != nil {
				return nil, err
			}
			h.Stage = st
		}
		return h, nil
	case KindBiome:
		b, err := oracle.ParseBiome(r.Biome)
		if err != nil {
			return nil, err
		}
		return Biome{Biome: b, MinX: r.MinX, MaxX: r.MaxX, MinZ: r.MinZ, MaxZ: r.MaxZ, Combinator: comb}, nil
	}
	return nil, fmt.Errorf("unknown condition kind %q", r.Kind)
}

func FromRecords(recs []Record) ([]Condition, error) {
	out := make([]Condition, 0, len(recs))
	for i, r := range recs {
		c, err := FromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func ToRecords(conds []Condition) []Record {
	out := make([]Record, 0, len(conds))
	for _, c := range conds {
		out = append(out, c.Record())
	}
	return out
}

// MaxStage is the highest generation stage any of the conditions needs.
func MaxStage(conds []Condition) store.Stage {
	var m store.Stage
	for _, c := range conds {
		if h, ok := c.(Height); ok && h.stage() > m {
			m = h.stage()
		}
	}
	return m
}
