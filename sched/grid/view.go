package grid

import (
	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

// CellState is the per-cell scheduling state a policy may inspect. It is
// implemented by the cell scheduling context and reflects the slot being
// processed; policies query it and never mutate it.
type CellState interface {
	CellIndex() model.CellIndex
	Slot() slot.Point
	DLFreePRBs() uint32
	ULFreePRBs() uint32
	HasDLGrant(rnti model.RNTI) bool
	HasULGrant(rnti model.RNTI) bool
}

// View aggregates the state of every active cell. The scheduler registers
// cells as they are configured; policies receive the view read-only.
type View struct {
	cells [model.MaxCells]CellState
	n     int
}

// AddCell registers a cell's state under its index. Registering the same
// index twice replaces the previous entry.
func (v *View) AddCell(cs CellState) {
	idx := cs.CellIndex()
	if v.cells[idx] == nil {
		v.n++
	}
	v.cells[idx] = cs
}

// RemoveCell drops the state registered under idx, if any.
func (v *View) RemoveCell(idx model.CellIndex) {
	if !idx.Valid() || v.cells[idx] == nil {
		return
	}
	v.cells[idx] = nil
	v.n--
}

// Cell returns the state registered under idx, or nil.
func (v *View) Cell(idx model.CellIndex) CellState {
	if !idx.Valid() {
		return nil
	}
	return v.cells[idx]
}

// HasCell reports whether a cell is registered under idx.
func (v *View) HasCell(idx model.CellIndex) bool {
	return idx.Valid() && v.cells[idx] != nil
}

// NumCells returns the number of registered cells.
func (v *View) NumCells() int { return v.n }
