package condition

import (
	"context"
	"encoding/json"
	"reflect"
	"sync/atomic"
	"testing"

	"seedcraft.ai/internal/terrain/oracle"
	"seedcraft.ai/internal/terrain/store"
)

// gridOracle serves noise equal to the x coordinate, a column that peaks at
// peak over (0,0) and sits at base elsewhere, and desert west of x=0.
type gridOracle struct {
	base, peak int
	noise      atomic.Int64
}

func (o *gridOracle) SampleNoise(seed int64, x, y, z int, ch oracle.NoiseChannel) (float64, error) {
	o.noise.Add(1)
	return float64(x), nil
}

func (o *gridOracle) SampleContent(seed int64, x, y, z int) (oracle.ContentID, error) {
	top := o.base
	if x == 0 && z == 0 {
		top = o.peak
	}
	if y <= top {
		return oracle.Stone, nil
	}
	return oracle.Air, nil
}

func (o *gridOracle) SampleBiome(seed int64, x, z int) (oracle.BiomeID, error) {
	if x < 0 {
		return oracle.Desert, nil
	}
	return oracle.Plains, nil
}

func newSession(o oracle.Oracle) *store.Session {
	cfg := store.DefaultConfig()
	cfg.TTL = -1
	return store.NewEngine(o, cfg).NewSession(12345)
}

func TestHeightConditionScenario(t *testing.T) {
	sess := newSession(&gridOracle{base: 20, peak: 65})
	h := Height{MinX: 0, MaxX: 0, MinZ: 0, MaxZ: 0, MinHeight: 60, MaxHeight: 70, Combinator: Any}
	ok, err := h.Evaluate(context.Background(), sess)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Fatalf("column at 65 should satisfy [60,70]")
	}

	miss := Height{MinX: 1, MaxX: 2, MinZ: 1, MaxZ: 2, MinHeight: 60, MaxHeight: 70, Combinator: Any}
	if ok, _ := miss.Evaluate(context.Background(), sess); ok {
		t.Fatalf("columns at 20 should not satisfy [60,70]")
	}
	all := Height{MinX: 0, MaxX: 1, MinZ: 0, MaxZ: 0, MinHeight: 60, MaxHeight: 70, Combinator: All}
	if ok, _ := all.Evaluate(context.Background(), sess); ok {
		t.Fatalf("All over mixed columns should fail")
	}
}

func TestHeightDegenerateRange(t *testing.T) {
	sess := newSession(&gridOracle{base: 20, peak: 65})
	for _, h := range []Height{
		{MinX: 1, MaxX: 0, MinZ: 0, MaxZ: 0, MinHeight: -64, MaxHeight: 320},
		{MinX: 0, MaxX: 0, MinZ: 5, MaxZ: 4, MinHeight: -64, MaxHeight: 320, Combinator: All},
	} {
		ok, err := h.Evaluate(context.Background(), sess)
		if err != nil || ok {
			t.Fatalf("degenerate %+v: got %v, %v", h, ok, err)
		}
	}
	if sess.Cache().Len() != 0 {
		t.Fatalf("degenerate range generated tiles")
	}
}

func TestNoiseCombinators(t *testing.T) {
	o := &gridOracle{}
	sess := newSession(o)
	ctx := context.Background()
	region := Region{MinX: 0, MaxX: 9, MinY: 0, MaxY: 0, MinZ: 0, MaxZ: 0}

	cases := []struct {
		name string
		cond Noise
		want bool
	}{
		{"all above", Noise{Channel: oracle.CaveCheese, Region: region, Threshold: 0, Comparator: AtLeast, Combinator: All}, true},
		{"all above fails", Noise{Channel: oracle.CaveCheese, Region: region, Threshold: 5, Comparator: AtLeast, Combinator: All}, false},
		{"any above", Noise{Channel: oracle.CaveCheese, Region: region, Threshold: 9, Comparator: AtLeast, Combinator: Any}, true},
		{"any below fails", Noise{Channel: oracle.CaveCheese, Region: region, Threshold: -1, Comparator: AtMost, Combinator: Any}, false},
		{"all below", Noise{Channel: oracle.CaveCheese, Region: region, Threshold: 9, Comparator: AtMost, Combinator: All}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.cond.Evaluate(ctx, sess)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestNoiseShortCircuitAndStride(t *testing.T) {
	o := &gridOracle{}
	sess := newSession(o)
	ctx := context.Background()

	first := Noise{Channel: oracle.CaveCheese, Region: Region{MaxX: 99, MaxY: 3, MaxZ: 3}, Threshold: 0, Combinator: Any}
	if ok, _ := first.Evaluate(ctx, sess); !ok {
		t.Fatalf("expected match")
	}
	if n := o.noise.Load(); n != 1 {
		t.Fatalf("Any should stop at first pass, sampled %d", n)
	}

	o.noise.Store(0)
	climate := Noise{Channel: oracle.Temperature, Region: Region{MinX: 0, MaxX: 7, MinY: 0, MaxY: 10, MinZ: 0, MaxZ: 7}, Threshold: -1, Combinator: All}
	if ok, _ := climate.Evaluate(ctx, sess); !ok {
		t.Fatalf("expected match")
	}
	if n := o.noise.Load(); n != 4 {
		t.Fatalf("planar stride-4 channel over 8x8: sampled %d want 4", n)
	}
}

func TestNoiseSamplesNativeGrid(t *testing.T) {
	sess := newSession(&gridOracle{})
	ctx := context.Background()

	// gridOracle returns x, so these pass only when x in {4, 8} is sampled.
	row := Region{MinX: 1, MaxX: 9}
	upper := Noise{Channel: oracle.Temperature, Region: row, Threshold: 8, Comparator: AtMost, Combinator: All}
	lower := Noise{Channel: oracle.Temperature, Region: row, Threshold: 4, Comparator: AtLeast, Combinator: All}
	for _, c := range []Noise{upper, lower} {
		if ok, err := c.Evaluate(ctx, sess); err != nil || !ok {
			t.Fatalf("%s %s %v: got %v err=%v", c.Comparator, c.Combinator, c.Threshold, ok, err)
		}
	}

	neg := Noise{Channel: oracle.Temperature, Region: Region{MinX: -7, MaxX: -1}, Threshold: -4, Comparator: AtMost, Combinator: All}
	if ok, _ := neg.Evaluate(ctx, sess); !ok {
		t.Fatalf("negative range should sample x=-4 only")
	}

	// No multiple of 4 in [1, 3]: the cell starting at 0 is used.
	narrow := Noise{Channel: oracle.Temperature, Region: Region{MinX: 1, MaxX: 3}, Threshold: 0, Comparator: AtMost, Combinator: Any}
	if ok, _ := narrow.Evaluate(ctx, sess); !ok {
		t.Fatalf("narrow range should sample its containing cell")
	}
}

func TestBiomeCondition(t *testing.T) {
	sess := newSession(&gridOracle{})
	ctx := context.Background()
	cases := []struct {
		cond Biome
		want bool
	}{
		{Biome{Biome: oracle.Desert, MinX: -4, MaxX: -1, MinZ: 0, MaxZ: 3, Combinator: All}, true},
		{Biome{Biome: oracle.Desert, MinX: -4, MaxX: 3, MinZ: 0, MaxZ: 3, Combinator: All}, false},
		{Biome{Biome: oracle.Desert, MinX: -4, MaxX: 3, MinZ: 0, MaxZ: 3, Combinator: Any}, true},
		{Biome{Biome: oracle.Ocean, MinX: -4, MaxX: 3, MinZ: 0, MaxZ: 3, Combinator: Any}, false},
	}
	for i, tc := range cases {
		got, err := tc.cond.Evaluate(ctx, sess)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if got != tc.want {
			t.Fatalf("case %d: got %v want %v", i, got, tc.want)
		}
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	sess := store.NewEngine(oracle.NewSimplex(0), store.Config{MinY: -64, MaxY: 128, TTL: -1}).NewSession(777)
	ctx := context.Background()
	conds := []Condition{
		Height{MinX: 0, MaxX: 2, MinZ: 0, MaxZ: 2, MinHeight: 0, MaxHeight: 200, Combinator: Any},
		Noise{Channel: oracle.Erosion, Region: Region{MaxX: 16, MaxZ: 16}, Threshold: 0, Combinator: Any},
		Biome{Biome: oracle.Plains, MaxX: 8, MaxZ: 8, Combinator: Any},
	}
	for _, c := range conds {
		a, err := c.Evaluate(ctx, sess)
		if err != nil {
			t.Fatalf("%s: %v", c.Kind(), err)
		}
		b, err := c.Evaluate(ctx, sess)
		if err != nil {
			t.Fatalf("%s: %v", c.Kind(), err)
		}
		if a != b {
			t.Fatalf("%s: results differ across evaluations", c.Kind())
		}
	}
}

func TestAllHoldShortCircuits(t *testing.T) {
	o := &gridOracle{base: 20, peak: 65}
	sess := newSession(o)
	conds := []Condition{
		Biome{Biome: oracle.Ocean, MaxX: 0, MaxZ: 0},
		Noise{Channel: oracle.CaveCheese, Region: Region{MaxX: 3}, Threshold: -10},
	}
	ok, err := AllHold(context.Background(), sess, conds)
	if err != nil || ok {
		t.Fatalf("AllHold: got %v, %v", ok, err)
	}
	if o.noise.Load() != 0 {
		t.Fatalf("later conditions evaluated after a failure")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	conds := []Condition{
		Noise{Channel: oracle.Continentalness, Region: Region{MinX: -8, MaxX: 8, MinY: 0, MaxY: 64, MinZ: -8, MaxZ: 8}, Threshold: 0.25, Comparator: AtMost, Combinator: Any},
		Noise{Channel: oracle.CaveCheese, Region: Region{MaxX: 1, MaxZ: 1}, Threshold: -0.5, Comparator: AtLeast, Combinator: All},
		Height{MinX: 0, MaxX: 4, MinZ: 0, MaxZ: 4, MinHeight: 60, MaxHeight: 70, Combinator: Any},
		Height{MinX: 1, MaxX: 1, MinZ: 2, MaxZ: 2, MinHeight: 80, MaxHeight: 90, Combinator: All, Stage: store.Features},
		Biome{Biome: oracle.Jungle, MinX: -2, MaxX: 2, MinZ: -2, MaxZ: 2, Combinator: All},
	}
	raw, err := json.Marshal(ToRecords(conds))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var recs []Record
	if err := json.Unmarshal(raw, &recs); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	back, err := FromRecords(recs)
	if err != nil {
		t.Fatalf("FromRecords: %v", err)
	}
	if !reflect.DeepEqual(conds, back) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", back, conds)
	}
}

func TestFromRecordErrors(t *testing.T) {
	bad := []Record{
		{Kind: "volcano"},
		{Kind: KindNoise, Channel: "NOT_A_CHANNEL"},
		{Kind: KindNoise, Channel: "EROSION", Comparator: "~"},
		{Kind: KindBiome, Biome: "ATLANTIS"},
		{Kind: KindHeight, Stage: "NOPE"},
		{Kind: KindBiome, Biome: "DESERT", Combinator: "most"},
	}
	for _, r := range bad {
		if _, err := FromRecord(r); err == nil {
			t.Fatalf("expected error for %+v", r)
		}
	}
}
