package search

import (
	"fmt"
	"strings"
)

// Mode selects how the seed domain is enumerated.
type Mode uint8

const (
	FullRange Mode = iota
	FixedLower32
	FixedLower48
	SeedList
)

var modeNames = [...]string{
	FullRange:    "FULL_RANGE",
	FixedLower32: "FIXED_LOWER_32",
	FixedLower48: "FIXED_LOWER_48",
	SeedList:     "SEED_LIST",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("MODE_%d", uint8(m))
}

// ParseMode accepts a mode name or its numeric discriminant (0-3).
func ParseMode(s string) (Mode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range modeNames {
		if s == n || s == fmt.Sprint(i) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown search mode %q", s)
}

// Mask is the set of seed bits that vary during an arithmetic run.
func (m Mode) Mask() uint64 {
	switch m {
	case FixedLower32:
		return 0xFFFFFFFF00000000
	case FixedLower48:
		return 0xFFFF000000000000
	}
	return ^uint64(0)
}

// FixedMask is the set of bits held at FixedBits.
func (m Mode) FixedMask() uint64 { return ^m.Mask() }

// Step is the distance between consecutive seeds of one residue class.
func (m Mode) Step() uint64 {
	switch m {
	case FixedLower32:
		return 1 << 32
	case FixedLower48:
		return 1 << 48
	}
	return 1
}

// Domain describes the seeds a job visits: an arithmetic progression from
// Start with FixedBits held under the mode's fixed mask, or an explicit list.
type Domain struct {
	Mode      Mode
	Start     int64
	FixedBits int64
	// Count caps the total number of arithmetic seeds visited. Zero is unbounded.
	Count uint64
	Seeds []int64
}

// Cursor walks one worker's residue class of an arithmetic domain.
type Cursor struct {
	next   uint64
	stride uint64
	mask   uint64
	fixed  uint64

	// remaining is the number of seeds left; valid when bounded.
	remaining uint64
	bounded   bool
}

// Cursor returns worker i's cursor out of n. Worker i starts at
// ((Start + i*Step) & mask) | (FixedBits & ^mask) and advances by n*Step,
// re-applying the mask after each addition.
func (d Domain) Cursor(i, n int) *Cursor {
	mask := d.Mode.Mask()
	step := d.Mode.Step()
	fixed := uint64(d.FixedBits) & ^mask
	c := &Cursor{
		next:   ((uint64(d.Start) + uint64(i)*step) & mask) | fixed,
		stride: uint64(n) * step,
		mask:   mask,
		fixed:  fixed,
	}
	if d.Count > 0 {
		c.bounded = true
		// Worker i takes global indices i, i+n, i+2n, ... below Count.
		if uint64(i) < d.Count {
			c.remaining = (d.Count-uint64(i)-1)/uint64(n) + 1
		}
	}
	return c
}

// Next returns the next seed, or false when a bounded cursor is exhausted.
func (c *Cursor) Next() (int64, bool) {
	if c.bounded {
		if c.remaining == 0 {
			return 0, false
		}
		c.remaining--
	}
	v := c.next
	c.next = ((c.next + c.stride) & c.mask) | c.fixed
	return int64(v), true
}

// SplitList cuts seeds into n contiguous slices whose sizes differ by at most
// one; the first len(seeds)%n slices get the extra seed.
func SplitList(seeds []int64, n int) [][]int64 {
	if n < 1 {
		n = 1
	}
	per, rem := len(seeds)/n, len(seeds)%n
	out := make([][]int64, n)
	for i := 0; i < n; i++ {
		lo := i*per + min(i, rem)
		hi := (i+1)*per + min(i+1, rem)
		out[i] = seeds[lo:hi]
	}
	return out
}

// iterator yields worker i's seeds.
func (d Domain) iterator(i, n int) func() (int64, bool) {
	if d.Mode == SeedList {
		part := SplitList(d.Seeds, n)[i]
		idx := 0
		return func() (int64, bool) {
			if idx >= len(part) {
				return 0, false
			}
			s := part[idx]
			idx++
			return s, true
		}
	}
	return d.Cursor(i, n).Next
}
