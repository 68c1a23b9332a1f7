// Package grid tracks per-slot PRB occupancy for each cell and exposes a
// read-only view of all cells' state to scheduling policies.
package grid

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

var (
	ErrOverlap    = errors.New("grant overlaps committed allocation")
	ErrOutOfRange = errors.New("grant exceeds cell bandwidth")
	ErrEmptyGrant = errors.New("grant allocates no resources")
)

// NominalRBGSize returns the resource block group size for a cell of the
// given bandwidth, following the nominal RBG size table (configuration 1).
func NominalRBGSize(numPRBs uint32) uint32 {
	switch {
	case numPRBs <= 36:
		return 2
	case numPRBs <= 72:
		return 4
	case numPRBs <= 144:
		return 8
	default:
		return 16
	}
}

// prbMask is a fixed-size bitset over the PRBs of one direction of one
// cell for the slot being processed.
type prbMask [(model.MaxPRBs + 63) / 64]uint64

func spanMask(lo, hi uint32) uint64 {
	m := ^uint64(0) << lo
	if hi < 64 {
		m &^= ^uint64(0) << hi
	}
	return m
}

func (m *prbMask) fill(start, stop uint32) {
	for w := start / 64; w*64 < stop; w++ {
		lo, hi := uint32(0), uint32(64)
		if w == start/64 {
			lo = start % 64
		}
		if rem := stop - w*64; rem < 64 {
			hi = rem
		}
		m[w] |= spanMask(lo, hi)
	}
}

func (m *prbMask) overlaps(start, stop uint32) bool {
	for w := start / 64; w*64 < stop; w++ {
		lo, hi := uint32(0), uint32(64)
		if w == start/64 {
			lo = start % 64
		}
		if rem := stop - w*64; rem < 64 {
			hi = rem
		}
		if m[w]&spanMask(lo, hi) != 0 {
			return true
		}
	}
	return false
}

func (m *prbMask) test(i uint32) bool {
	return m[i/64]&(1<<(i%64)) != 0
}

func (m *prbMask) count() uint32 {
	n := 0
	for _, w := range m {
		n += bits.OnesCount64(w)
	}
	return uint32(n)
}

func (m *prbMask) clear() {
	*m = prbMask{}
}

// CellGrid is the per-slot resource occupancy of one cell. It is owned by
// the cell's slot-processing path and is reset at every slot boundary;
// committing a grant marks its PRBs so later grants in the same slot
// cannot double-book them.
type CellGrid struct {
	cell    model.CellIndex
	numPRBs uint32
	rbgSize uint32
	numRBGs uint32
	slot    slot.Point
	dl      prbMask
	ul      prbMask
}

// NewCellGrid builds the occupancy tracker for a cell of numPRBs PRBs.
func NewCellGrid(cell model.CellIndex, numPRBs uint32) (*CellGrid, error) {
	if !cell.Valid() {
		return nil, fmt.Errorf("cell index %d out of range", cell)
	}
	if numPRBs == 0 || numPRBs > model.MaxPRBs {
		return nil, fmt.Errorf("cell bandwidth of %d PRBs out of range", numPRBs)
	}
	rbgSize := NominalRBGSize(numPRBs)
	return &CellGrid{
		cell:    cell,
		numPRBs: numPRBs,
		rbgSize: rbgSize,
		numRBGs: (numPRBs + rbgSize - 1) / rbgSize,
	}, nil
}

func (g *CellGrid) CellIndex() model.CellIndex { return g.cell }
func (g *CellGrid) NumPRBs() uint32            { return g.numPRBs }
func (g *CellGrid) RBGSize() uint32            { return g.rbgSize }
func (g *CellGrid) NumRBGs() uint32            { return g.numRBGs }
func (g *CellGrid) Slot() slot.Point           { return g.slot }

// StartSlot clears both directions' occupancy for a new slot.
func (g *CellGrid) StartSlot(sl slot.Point) {
	g.slot = sl
	g.dl.clear()
	g.ul.clear()
}

// rbgBounds returns the PRB range covered by one resource block group.
// The last group may be truncated by the cell bandwidth.
func (g *CellGrid) rbgBounds(i uint32) (start, stop uint32) {
	start = i * g.rbgSize
	stop = start + g.rbgSize
	if stop > g.numPRBs {
		stop = g.numPRBs
	}
	return start, stop
}

// AllocDL commits a downlink grant, failing without side effects if any of
// its PRBs is already booked or lies outside the cell bandwidth.
func (g *CellGrid) AllocDL(grant model.PRBGrant) error {
	return g.alloc(&g.dl, grant)
}

// AllocUL commits an uplink grant under the same rules as AllocDL.
func (g *CellGrid) AllocUL(grant model.PRBGrant) error {
	return g.alloc(&g.ul, grant)
}

func (g *CellGrid) alloc(m *prbMask, grant model.PRBGrant) error {
	if grant.Empty() {
		return ErrEmptyGrant
	}
	if grant.IsType0() {
		rbgs := grant.RBGs()
		if uint32(bits.Len32(uint32(rbgs))) > g.numRBGs {
			return ErrOutOfRange
		}
		for i := uint32(0); i < g.numRBGs; i++ {
			if !rbgs.Test(uint(i)) {
				continue
			}
			if start, stop := g.rbgBounds(i); m.overlaps(start, stop) {
				return ErrOverlap
			}
		}
		for i := uint32(0); i < g.numRBGs; i++ {
			if rbgs.Test(uint(i)) {
				start, stop := g.rbgBounds(i)
				m.fill(start, stop)
			}
		}
		return nil
	}
	iv := grant.PRBs()
	if iv.Stop > g.numPRBs {
		return ErrOutOfRange
	}
	if m.overlaps(iv.Start, iv.Stop) {
		return ErrOverlap
	}
	m.fill(iv.Start, iv.Stop)
	return nil
}

// GrantPRBs returns the number of PRBs a grant occupies on this cell's
// geometry. For type 0 grants this accounts for the truncated last group.
func (g *CellGrid) GrantPRBs(grant model.PRBGrant) uint32 {
	if grant.IsType1() {
		return grant.PRBs().Length()
	}
	var n uint32
	for i := uint32(0); i < g.numRBGs; i++ {
		if grant.RBGs().Test(uint(i)) {
			start, stop := g.rbgBounds(i)
			n += stop - start
		}
	}
	return n
}

// DLFree returns the number of unbooked downlink PRBs in the current slot.
func (g *CellGrid) DLFree() uint32 { return g.numPRBs - g.dl.count() }

// ULFree returns the number of unbooked uplink PRBs in the current slot.
func (g *CellGrid) ULFree() uint32 { return g.numPRBs - g.ul.count() }

// FindFreeDL returns the first run of free downlink PRBs at least min
// PRBs long, truncated to max. The empty interval means no such run
// exists.
func (g *CellGrid) FindFreeDL(min, max uint32) model.PRBInterval {
	return g.findFree(&g.dl, min, max)
}

// FindFreeUL is FindFreeDL for the uplink.
func (g *CellGrid) FindFreeUL(min, max uint32) model.PRBInterval {
	return g.findFree(&g.ul, min, max)
}

func (g *CellGrid) findFree(m *prbMask, min, max uint32) model.PRBInterval {
	if min == 0 {
		min = 1
	}
	var runStart uint32
	inRun := false
	for i := uint32(0); i < g.numPRBs; i++ {
		if m.test(i) {
			if inRun && i-runStart >= min {
				return truncate(runStart, i, max)
			}
			inRun = false
			continue
		}
		if !inRun {
			runStart = i
			inRun = true
		}
		if i-runStart+1 >= max {
			return model.PRBInterval{Start: runStart, Stop: runStart + max}
		}
	}
	if inRun && g.numPRBs-runStart >= min {
		return truncate(runStart, g.numPRBs, max)
	}
	return model.PRBInterval{}
}

func truncate(start, stop, max uint32) model.PRBInterval {
	if stop-start > max {
		stop = start + max
	}
	return model.PRBInterval{Start: start, Stop: stop}
}
