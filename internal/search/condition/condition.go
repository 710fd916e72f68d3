// Package condition holds the predicates a search evaluates per seed.
package condition

import (
	"context"
	"fmt"
	"strings"

	"seedcraft.ai/internal/terrain/store"
)

type Kind string

const (
	KindNoise  Kind = "noise"
	KindHeight Kind = "height"
	KindBiome  Kind = "biome"
)

// Condition is an immutable predicate over one seed's terrain.
type Condition interface {
	Kind() Kind
	Evaluate(ctx context.Context, sess *store.Session) (bool, error)
	Record() Record
}

// Combinator folds per-cell results over a region.
type Combinator uint8

const (
	All Combinator = iota
	Any
)

func (c Combinator) String() string {
	if c == Any {
		return "any"
	}
	return "all"
}

func ParseCombinator(s string) (Combinator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "":
		return All, nil
	case "any":
		return Any, nil
	}
	return 0, fmt.Errorf("unknown combinator %q", s)
}

// Comparator compares a sample with a threshold.
type Comparator uint8

const (
	AtLeast Comparator = iota // >=
	AtMost                    // <=
)

func (c Comparator) String() string {
	if c == AtMost {
		return "<="
	}
	return ">="
}

func (c Comparator) Holds(v, threshold float64) bool {
	if c == AtMost {
		return v <= threshold
	}
	return v >= threshold
}

// ParseComparator accepts ">=" / "<=" and the "above" / "below" spellings.
func ParseComparator(s string) (Comparator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ">=", "above", "":
		return AtLeast, nil
	case "<=", "below":
		return AtMost, nil
	}
	return 0, fmt.Errorf("unknown comparator %q", s)
}

// Region is an inclusive axis-aligned box in world cells.
type Region struct {
	MinX, MaxX int
	MinY, MaxY int
	MinZ, MaxZ int
}

// Degenerate reports whether the horizontal extent is empty.
func (r Region) Degenerate() bool { return r.MinX > r.MaxX || r.MinZ > r.MaxZ }

// AllHold evaluates every condition for the session's seed, stopping at the first
// one that does not hold.
func AllHold(ctx context.Context, sess *store.Session, conds []Condition) (bool, error) {
	for _, c := range conds {
		ok, err := c.Evaluate(ctx, sess)
		if err != nil {
			return false, fmt.Errorf("%s condition: %w", c.Kind(), err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
