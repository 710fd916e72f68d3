package condition

import (
	"context"

	"seedcraft.ai/internal/terrain/oracle"
	"seedcraft.ai/internal/terrain/store"
)

// Noise compares a noise channel against a threshold across a region. Planar
// channels are sampled once per column; horizontal steps follow the channel's
// native stride.
type Noise struct {
	Channel    oracle.NoiseChannel
	Region     Region
	Threshold  float64
	Comparator Comparator
	Combinator Combinator
}

func (n Noise) Kind() Kind { return KindNoise }

func (n Noise) Evaluate(ctx context.Context, sess *store.Session) (bool, error) {
	requireAll := n.Combinator == All
	stride := n.Channel.Stride()
	r := n.Region
	maxY := r.MaxY
	if n.Channel.Planar() {
		maxY = r.MinY
	}
	for x := gridStart(r.MinX, r.MaxX, stride); x <= r.MaxX; x += stride {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		for y := r.MinY; y <= maxY; y++ {
			for z := gridStart(r.MinZ, r.MaxZ, stride); z <= r.MaxZ; z += stride {
				v, err := sess.Noise(x, y, z, n.Channel)
				if err != nil {
					return false, err
				}
				ok := n.Comparator.Holds(v, n.Threshold)
				if requireAll && !ok {
					return false, nil
				}
				if !requireAll && ok {
					return true, nil
				}
			}
		}
	}
	return requireAll, nil
}

// gridStart is the first multiple of stride in [lo, hi]. A range narrower
// than one cell with no multiple inside starts at the cell containing lo.
func gridStart(lo, hi, stride int) int {
	if stride <= 1 {
		return lo
	}
	up := oracle.FloorDiv(lo+stride-1, stride) * stride
	if up > hi {
		return oracle.FloorDiv(lo, stride) * stride
	}
	return up
}

func (n Noise) Record() Record {
	return Record{
		Kind:       KindNoise,
		Channel:    n.Channel.String(),
		MinX:       n.Region.MinX,
		MaxX:       n.Region.MaxX,
		MinY:       n.Region.MinY,
		MaxY:       n.Region.MaxY,
		MinZ:       n.Region.MinZ,
		MaxZ:       n.Region.MaxZ,
		Threshold:  n.Threshold,
		Comparator: n.Comparator.String(),
		Combinator: n.Combinator.String(),
	}
}
