package model

import (
	"fmt"
	"math/bits"
)

// AllocType distinguishes the frequency-domain resource allocation scheme
// of a grant.
type AllocType uint8

const (
	// AllocType0 allocates a (possibly non-contiguous) set of resource
	// block groups, expressed as a bitmap.
	AllocType0 AllocType = iota
	// AllocType1 allocates one contiguous PRB interval.
	AllocType1
)

// PRBInterval is a half-open PRB range [Start, Stop).
type PRBInterval struct {
	Start uint32
	Stop  uint32
}

// Length returns the number of PRBs in the interval.
func (i PRBInterval) Length() uint32 {
	if i.Stop <= i.Start {
		return 0
	}
	return i.Stop - i.Start
}

// Empty reports whether the interval covers no PRBs.
func (i PRBInterval) Empty() bool { return i.Stop <= i.Start }

// Overlaps reports whether the two intervals share at least one PRB.
func (i PRBInterval) Overlaps(o PRBInterval) bool {
	return i.Start < o.Stop && o.Start < i.Stop
}

// String renders the interval as "[start, stop)".
func (i PRBInterval) String() string { return fmt.Sprintf("[%d, %d)", i.Start, i.Stop) }

// RBGBitmap is a type-0 allocation bitmap; bit i set means RBG i is part of
// the grant. The RBG-to-PRB mapping depends on the cell bandwidth and is
// resolved by the resource grid.
type RBGBitmap uint32

// Count returns the number of allocated RBGs.
func (b RBGBitmap) Count() int { return bits.OnesCount32(uint32(b)) }

// Test reports whether RBG i is allocated.
func (b RBGBitmap) Test(i uint) bool { return b&(1<<i) != 0 }

// Set returns the bitmap with RBG i allocated.
func (b RBGBitmap) Set(i uint) RBGBitmap { return b | 1<<i }

// PRBGrant is the frequency-domain allocation of one transmission: either a
// type-0 RBG bitmap or a type-1 contiguous interval.
type PRBGrant struct {
	typ  AllocType
	rbgs RBGBitmap
	prbs PRBInterval
}

// NewType0Grant builds a grant from an RBG bitmap.
func NewType0Grant(rbgs RBGBitmap) PRBGrant {
	return PRBGrant{typ: AllocType0, rbgs: rbgs}
}

// NewType1Grant builds a grant from a contiguous PRB interval.
func NewType1Grant(prbs PRBInterval) PRBGrant {
	return PRBGrant{typ: AllocType1, prbs: prbs}
}

// Type returns the allocation scheme of the grant.
func (g PRBGrant) Type() AllocType { return g.typ }

// IsType0 reports whether the grant is an RBG bitmap allocation.
func (g PRBGrant) IsType0() bool { return g.typ == AllocType0 }

// IsType1 reports whether the grant is a contiguous interval allocation.
func (g PRBGrant) IsType1() bool { return g.typ == AllocType1 }

// RBGs returns the RBG bitmap of a type-0 grant.
func (g PRBGrant) RBGs() RBGBitmap { return g.rbgs }

// PRBs returns the PRB interval of a type-1 grant.
func (g PRBGrant) PRBs() PRBInterval { return g.prbs }

// Empty reports whether the grant allocates no resources.
func (g PRBGrant) Empty() bool {
	if g.typ == AllocType0 {
		return g.rbgs == 0
	}
	return g.prbs.Empty()
}

// SameShape reports whether two grants have the same allocation shape: the
// same allocation type and, for type 0, the same RBG count, or, for type 1,
// the same interval length. Retransmissions must keep the shape of the
// original transmission even when moved in frequency.
func (g PRBGrant) SameShape(o PRBGrant) bool {
	if g.typ != o.typ {
		return false
	}
	if g.typ == AllocType0 {
		return g.rbgs.Count() == o.rbgs.Count()
	}
	return g.prbs.Length() == o.prbs.Length()
}

// String renders the grant for logging.
func (g PRBGrant) String() string {
	if g.typ == AllocType0 {
		return fmt.Sprintf("rbgs=0x%x", uint32(g.rbgs))
	}
	return fmt.Sprintf("prbs=%s", g.prbs)
}
