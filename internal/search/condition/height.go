package condition

import (
	"context"

	"seedcraft.ai/internal/terrain/store"
)

// ScanTop is the elevation the height scan starts from.
const ScanTop = 256

// Height holds when some column (every column under All) in the box has its
// highest occupied cell within [MinHeight, MaxHeight].
type Height struct {
	MinX, MaxX int
	MinZ, MaxZ int
	MinHeight  int
	MaxHeight  int
	Combinator Combinator
	// Stage the tiles must reach before scanning. Zero means SURFACE.
	Stage store.Stage
}

func (h Height) Kind() Kind { return KindHeight }

func (h Height) stage() store.Stage {
	if h.Stage == store.Empty {
		return store.Surface
	}
	return h.Stage
}

func (h Height) Evaluate(ctx context.Context, sess *store.Session) (bool, error) {
	if h.MinX > h.MaxX || h.MinZ > h.MaxZ {
		return false, nil
	}
	requireAll := h.Combinator == All
	for x := h.MinX; x <= h.MaxX; x++ {
		for z := h.MinZ; z <= h.MaxZ; z++ {
			y, err := sess.ColumnHeight(ctx, x, z, ScanTop, h.stage())
			if err != nil {
				return false, err
			}
			ok := y >= h.MinHeight && y <= h.MaxHeight
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

func (h Height) Record() Record {
	rec := Record{
		Kind:       KindHeight,
		MinX:       h.MinX,
		MaxX:       h.MaxX,
		MinZ:       h.MinZ,
		MaxZ:       h.MaxZ,
		MinHeight:  h.MinHeight,
		MaxHeight:  h.MaxHeight,
		Combinator: h.Combinator.String(),
	}
	if h.Stage != store.Empty {
		rec.Stage = h.Stage.String()
	}
	return rec
}
