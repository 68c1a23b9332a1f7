package sched

import (
	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/sched/harq"
)

// ueCarrier is the per-cell state of one served UE: the HARQ entity that
// tracks its transmissions on that carrier.
type ueCarrier struct {
	cell  model.CellIndex
	harqs *harq.Entity
}

// ue is the scheduler-internal state of one served UE. Buffer and
// scheduling-request state is shared across carriers; HARQ state is kept
// per carrier. All fields are owned by the slot-processing path and
// mutated only through drained events or grant allocation.
type ue struct {
	index model.UEIndex
	rnti  model.RNTI
	pcell model.CellIndex

	// carriers lists the serving cells, primary first.
	carriers []*ueCarrier

	// dlBuffer holds the last reported downlink queue size per logical
	// channel. Values are absolute, not deltas.
	dlBuffer [model.MaxLCIDs]uint32

	// ulBSR holds the last buffer status report per logical channel group.
	ulBSR [model.MaxLCGs]uint32

	// sr is set while a scheduling request is outstanding and cleared by
	// the next uplink grant.
	sr bool
}

// carrier returns the UE's state on cell, or nil if the UE is not served
// by that cell.
func (u *ue) carrier(cell model.CellIndex) *ueCarrier {
	for _, c := range u.carriers {
		if c.cell == cell {
			return c
		}
	}
	return nil
}

func (u *ue) hasCA() bool { return len(u.carriers) > 1 }

// dlPending returns the total downlink bytes awaiting transmission.
func (u *ue) dlPending() uint32 {
	var total uint32
	for _, b := range u.dlBuffer {
		total += b
	}
	return total
}

// ulPending returns the total uplink bytes reported across all LCGs.
func (u *ue) ulPending() uint32 {
	var total uint32
	for _, b := range u.ulBSR {
		total += b
	}
	return total
}

// consumeDL drains bytes from the downlink buffers, lowest LCID first,
// after a grant of that size was committed.
func (u *ue) consumeDL(bytes uint32) {
	for i := range u.dlBuffer {
		if bytes == 0 {
			return
		}
		if u.dlBuffer[i] >= bytes {
			u.dlBuffer[i] -= bytes
			return
		}
		bytes -= u.dlBuffer[i]
		u.dlBuffer[i] = 0
	}
}

// consumeUL drains bytes from the reported uplink buffers, lowest LCG
// first, and clears any outstanding scheduling request.
func (u *ue) consumeUL(bytes uint32) {
	u.sr = false
	for i := range u.ulBSR {
		if bytes == 0 {
			return
		}
		if u.ulBSR[i] >= bytes {
			u.ulBSR[i] -= bytes
			return
		}
		bytes -= u.ulBSR[i]
		u.ulBSR[i] = 0
	}
}

// ueCandidate adapts one (UE, carrier) pair to the policy's candidate
// interface. Pending bytes are UE-wide; the HARQ entity is the carrier's.
type ueCandidate struct {
	ue      *ue
	carrier *ueCarrier
}

func (c ueCandidate) Index() model.UEIndex   { return c.ue.index }
func (c ueCandidate) RNTI() model.RNTI       { return c.ue.rnti }
func (c ueCandidate) DLPendingBytes() uint32 { return c.ue.dlPending() }
func (c ueCandidate) ULPendingBytes() uint32 { return c.ue.ulPending() }
func (c ueCandidate) HasSR() bool            { return c.ue.sr }
func (c ueCandidate) HARQs() *harq.Entity    { return c.carrier.harqs }
