package condition

import (
	"context"

	"seedcraft.ai/internal/terrain/oracle"
	"seedcraft.ai/internal/terrain/store"
)

// Biome matches the biome at elevation 0 of each column in the box.
type Biome struct {
	Biome      oracle.BiomeID
	MinX, MaxX int
	MinZ, MaxZ int
	Combinator Combinator
}

func (b Biome) Kind() Kind { return KindBiome }

func (b Biome) Evaluate(ctx context.Context, sess *store.Session) (bool, error) {
	requireAll := b.Combinator == All
	for x := b.MinX; x <= b.MaxX; x++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		for z := b.MinZ; z <= b.MaxZ; z++ {
			got, err := sess.Biome(x, z)
			if err != nil {
				return false, err
			}
			ok := got == b.Biome
			if requireAll && !ok {
				return false, nil
			}
			if !requireAll && ok {
				return true, nil
			}
		}
	}
	return requireAll, nil
}

func (b Biome) Record() Record {
	return Record{
		Kind:       KindBiome,
		Biome:      b.Biome.String(),
		MinX:       b.MinX,
		MaxX:       b.MaxX,
		MinZ:       b.MinZ,
		MaxZ:       b.MaxZ,
		Combinator: b.Combinator.String(),
	}
}
