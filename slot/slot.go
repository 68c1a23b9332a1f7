// Package slot provides the scheduler's time base: a slot-granular point in
// the radio frame structure with wrap-aware arithmetic, plus a slot clock
// that drives slot-synchronous components in real or accelerated time.
package slot

import (
	"fmt"
	"time"
)

// Numerology is the subcarrier-spacing index mu. It determines the number of
// slots per 10 ms frame (10 * 2^mu) and the slot duration (1 ms / 2^mu).
type Numerology uint8

const (
	// SCS15kHz .. SCS240kHz are the valid numerologies mu=0..4.
	SCS15kHz Numerology = iota
	SCS30kHz
	SCS60kHz
	SCS120kHz
	SCS240kHz

	// NumNumerologies bounds the valid numerology range.
	NumNumerologies = 5
)

// NumSFNs is the system-frame-number period. Slot counts wrap after
// NumSFNs frames.
const NumSFNs = 1024

// Valid reports whether the numerology is within the supported range.
func (n Numerology) Valid() bool { return n < NumNumerologies }

// SubcarrierSpacingkHz returns the subcarrier spacing in kHz.
func (n Numerology) SubcarrierSpacingkHz() uint32 { return 15 << n }

// SlotsPerFrame returns the number of slots in one 10 ms frame.
func (n Numerology) SlotsPerFrame() uint32 { return 10 << n }

// SlotsPerHyperFrame returns the wrap period of a slot count: NumSFNs frames.
func (n Numerology) SlotsPerHyperFrame() uint32 { return NumSFNs * n.SlotsPerFrame() }

// SlotDuration returns the wall-clock duration of one slot.
func (n Numerology) SlotDuration() time.Duration { return time.Millisecond >> n }

// Point identifies one slot in the radio frame structure. It pairs a
// numerology with a slot count in [0, SlotsPerHyperFrame) and wraps at the
// hyper-frame boundary. The zero Point is invalid; use New or NewFromSFN.
//
// Points of different numerologies tick at different rates, so ordering and
// distance are only defined between Points of the same numerology; mixing
// them is a programming error and panics.
type Point struct {
	// mu holds numerology+1 so that the zero Point is distinguishable
	// from a valid mu=0 point.
	mu    uint8
	count uint32
}

// New builds a Point from a numerology and an absolute slot count. The count
// is reduced modulo the hyper-frame period.
func New(scs Numerology, count uint32) Point {
	if !scs.Valid() {
		panic(fmt.Sprintf("slot: invalid numerology %d", scs))
	}
	return Point{mu: uint8(scs) + 1, count: count % scs.SlotsPerHyperFrame()}
}

// NewFromSFN builds a Point from a system frame number and a slot index
// within the frame.
func NewFromSFN(scs Numerology, sfn, slotIndex uint32) Point {
	if !scs.Valid() {
		panic(fmt.Sprintf("slot: invalid numerology %d", scs))
	}
	if sfn >= NumSFNs || slotIndex >= scs.SlotsPerFrame() {
		panic(fmt.Sprintf("slot: sfn=%d slot=%d out of range for mu=%d", sfn, slotIndex, scs))
	}
	return Point{mu: uint8(scs) + 1, count: sfn*scs.SlotsPerFrame() + slotIndex}
}

// Valid reports whether the Point was built by a constructor. The zero Point
// is invalid and compares unequal to every valid Point.
func (p Point) Valid() bool { return p.mu != 0 }

// Numerology returns the Point's numerology. Panics if the Point is invalid.
func (p Point) Numerology() Numerology {
	p.check()
	return Numerology(p.mu - 1)
}

// Count returns the absolute slot count within the hyper-frame.
func (p Point) Count() uint32 {
	p.check()
	return p.count
}

// SFN returns the system frame number of the Point.
func (p Point) SFN() uint32 {
	p.check()
	return p.count / p.Numerology().SlotsPerFrame()
}

// SlotIndex returns the slot index within the Point's frame.
func (p Point) SlotIndex() uint32 {
	p.check()
	return p.count % p.Numerology().SlotsPerFrame()
}

// Duration returns the wall-clock duration of this Point's slot.
func (p Point) Duration() time.Duration {
	p.check()
	return p.Numerology().SlotDuration()
}

// Add returns the Point n slots later (or earlier for negative n), wrapping
// at the hyper-frame boundary.
func (p Point) Add(n int) Point {
	p.check()
	period := int64(p.Numerology().SlotsPerHyperFrame())
	c := (int64(p.count) + int64(n)) % period
	if c < 0 {
		c += period
	}
	return Point{mu: p.mu, count: uint32(c)}
}

// Next returns the Point one slot later.
func (p Point) Next() Point { return p.Add(1) }

// Sub returns the signed slot distance p - other. The result is normalised
// into [-period/2, period/2), so a Point just past the wrap boundary is a
// small positive distance ahead of one just before it.
func (p Point) Sub(other Point) int {
	p.mustMatch(other)
	period := int(p.Numerology().SlotsPerHyperFrame())
	d := int(p.count) - int(other.count)
	if d >= period/2 {
		return d - period
	}
	if d < -period/2 {
		return d + period
	}
	return d
}

// Before reports whether p precedes other in wrap-aware slot order.
func (p Point) Before(other Point) bool { return p.Sub(other) < 0 }

// After reports whether p follows other in wrap-aware slot order.
func (p Point) After(other Point) bool { return p.Sub(other) > 0 }

// String renders the Point as "sfn.slot", or "invalid" for the zero Point.
func (p Point) String() string {
	if !p.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("%d.%d", p.SFN(), p.SlotIndex())
}

func (p Point) check() {
	if !p.Valid() {
		panic("slot: operation on invalid Point")
	}
}

func (p Point) mustMatch(other Point) {
	p.check()
	other.check()
	if p.mu != other.mu {
		panic(fmt.Sprintf("slot: comparing points of different numerologies (mu=%d vs mu=%d)",
			p.mu-1, other.mu-1))
	}
}
