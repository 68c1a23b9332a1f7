// Package harq implements the per-UE hybrid-ARQ state machines: one small
// retransmission state machine per transport block per direction, grouped
// into an entity that advances all of a UE's processes each slot.
package harq

import (
	"errors"

	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

var (
	ErrEmptyProcess    = errors.New("harq process is empty")
	ErrProcessBusy     = errors.New("harq process is not empty")
	ErrNoPendingReTx   = errors.New("harq process has no pending retransmission")
	ErrGrantShape      = errors.New("grant shape differs from first transmission")
	ErrReTxStarted     = errors.New("harq process already retransmitted")
	ErrMaxReTxExceeded = errors.New("harq process exhausted its retransmissions")
)

// State is the lifecycle phase of a transport block within a HARQ process.
type State uint8

const (
	// StateEmpty marks a free process, ready for a new transmission.
	StateEmpty State = iota
	// StateWaitingACK marks a transmission whose feedback is outstanding.
	StateWaitingACK
	// StatePendingReTx marks a transmission that was NACKed, explicitly or
	// by its feedback slot elapsing.
	StatePendingReTx
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateWaitingACK:
		return "waiting_ack"
	case StatePendingReTx:
		return "pending_retx"
	default:
		return "unknown"
	}
}

// Direction distinguishes downlink from uplink processes.
type Direction uint8

const (
	DirectionDL Direction = iota
	DirectionUL
)

func (d Direction) String() string {
	if d == DirectionUL {
		return "UL"
	}
	return "DL"
}

// rvSchedule is the redundancy version transmitted on the n-th attempt.
var rvSchedule = [4]uint32{0, 2, 3, 1}

// invalidValue marks MCS and TBS fields of a process holding no transport
// block.
const invalidValue = ^uint32(0)

// tb tracks one transport block. A process carries a single codeword in
// this scheduler; the array in process leaves room for a second.
type tb struct {
	state    State
	ndi      bool
	ackState bool
	nReTx    uint32
	mcs      uint32
	tbs      uint32
}

// process is the direction-agnostic HARQ state machine. DLProcess and
// ULProcess wrap it with the control-information side effects of starting
// a transmission.
type process struct {
	pid     uint8
	maxReTx uint32
	slotTx  slot.Point
	slotAck slot.Point
	grant   model.PRBGrant
	tb      [1]tb
}

func (p *process) PID() uint8            { return p.pid }
func (p *process) Empty() bool           { return p.tb[0].state == StateEmpty }
func (p *process) State() State          { return p.tb[0].state }
func (p *process) HasPendingReTx() bool  { return p.tb[0].state == StatePendingReTx }
func (p *process) NDI() bool             { return p.tb[0].ndi }
func (p *process) NumReTx() uint32       { return p.tb[0].nReTx }
func (p *process) MaxReTx() uint32       { return p.maxReTx }
func (p *process) MCS() uint32           { return p.tb[0].mcs }
func (p *process) TBS() uint32           { return p.tb[0].tbs }
func (p *process) Grant() model.PRBGrant { return p.grant }
func (p *process) SlotTx() slot.Point    { return p.slotTx }
func (p *process) SlotAck() slot.Point   { return p.slotAck }

// NewSlot advances the process to a new reception slot. Once the expected
// feedback slot has elapsed without an ACK, the transmission counts as
// NACKed; a process whose retransmission budget is then exhausted is
// cleared. The discard check runs after the implicit NACK, so a process
// can be discarded on the same slot its feedback timed out.
func (p *process) NewSlot(rx slot.Point) {
	if p.Empty() {
		return
	}
	if rx.Before(p.slotAck) {
		// Feedback can still arrive.
		return
	}
	if p.tb[0].state == StateWaitingACK {
		// ACK went missing, count it as a NACK.
		p.tb[0].state = StatePendingReTx
	}
	if p.tb[0].nReTx+1 > p.maxReTx {
		p.tb[0].state = StateEmpty
	}
}

// AckInfo applies HARQ feedback for one transport block. A positive ACK
// frees the process and returns the transport block size delivered; a
// negative ACK marks it for retransmission and returns zero. Feedback for
// an empty process fails with ErrEmptyProcess.
func (p *process) AckInfo(tbIdx int, ack bool) (int, error) {
	if p.tb[tbIdx].state == StateEmpty {
		return 0, ErrEmptyProcess
	}
	p.tb[tbIdx].ackState = ack
	if ack {
		p.tb[tbIdx].state = StateEmpty
		return int(p.tb[tbIdx].tbs), nil
	}
	p.tb[tbIdx].state = StatePendingReTx
	return 0, nil
}

// SetTBS records the transport block size once the allocation is sized.
// Only valid during the first transmission attempt.
func (p *process) SetTBS(tbs uint32) error {
	if p.Empty() {
		return ErrEmptyProcess
	}
	if p.tb[0].nReTx > 0 {
		return ErrReTxStarted
	}
	p.tb[0].tbs = tbs
	return nil
}

// SetMCS overrides the MCS of the first transmission attempt.
func (p *process) SetMCS(mcs uint32) error {
	if p.Empty() {
		return ErrEmptyProcess
	}
	if p.tb[0].nReTx > 0 {
		return ErrReTxStarted
	}
	p.tb[0].mcs = mcs
	return nil
}

func (p *process) reset() {
	p.tb[0].ackState = false
	p.tb[0].state = StateEmpty
	p.tb[0].nReTx = 0
	p.tb[0].mcs = invalidValue
	p.tb[0].tbs = invalidValue
}

// newTx starts a fresh transmission on an empty process. The new-data
// indicator toggles relative to the previous occupant; the TBS starts at
// zero and is filled by SetTBS once the grant is sized.
func (p *process) newTx(slotTx, slotAck slot.Point, grant model.PRBGrant, mcs, maxReTx uint32) error {
	if !p.Empty() {
		return ErrProcessBusy
	}
	p.reset()
	p.maxReTx = maxReTx
	p.slotTx = slotTx
	p.slotAck = slotAck
	p.grant = grant
	p.tb[0].ndi = !p.tb[0].ndi
	p.tb[0].mcs = mcs
	p.tb[0].tbs = 0
	p.tb[0].state = StateWaitingACK
	return nil
}

// newReTx re-arms the process for another transmission attempt. A process
// whose budget is spent cannot be re-armed; it stays pending until NewSlot
// clears it.
func (p *process) newReTx(slotTx, slotAck slot.Point) error {
	if p.tb[0].state != StatePendingReTx {
		return ErrNoPendingReTx
	}
	if p.tb[0].nReTx+1 > p.maxReTx {
		return ErrMaxReTxExceeded
	}
	p.slotTx = slotTx
	p.slotAck = slotAck
	p.tb[0].state = StateWaitingACK
	p.tb[0].ackState = false
	p.tb[0].nReTx++
	return nil
}

// newReTxGrant retransmits on a new grant. The grant must have the same
// allocation shape as the first transmission; a mismatch fails without
// touching process state.
func (p *process) newReTxGrant(slotTx, slotAck slot.Point, grant model.PRBGrant) error {
	if !grant.SameShape(p.grant) {
		return ErrGrantShape
	}
	if err := p.newReTx(slotTx, slotAck); err != nil {
		return err
	}
	p.grant = grant
	return nil
}

// DLProcess is a downlink HARQ process. Starting a transmission fills the
// downlink control information of the grant as a side effect.
type DLProcess struct {
	process
}

func (p *DLProcess) fillDCI(dci *model.DLDCI) {
	dci.PID = p.pid
	dci.NDI = p.NDI()
	dci.MCS = p.MCS()
	dci.RV = rvSchedule[p.NumReTx()%4]
	if dci.Format == model.DCIFormat1_0 {
		dci.HARQFeedback = uint32(p.slotAck.Sub(p.slotTx) - 1)
	} else {
		dci.HARQFeedback = p.slotTx.SlotIndex()
	}
}

// NewTx starts a fresh downlink transmission. slotAck is the slot the
// HARQ-ACK is expected in.
func (p *DLProcess) NewTx(slotTx, slotAck slot.Point, grant model.PRBGrant, mcs, maxReTx uint32, dci *model.DLDCI) error {
	if err := p.newTx(slotTx, slotAck, grant, mcs, maxReTx); err != nil {
		return err
	}
	p.fillDCI(dci)
	return nil
}

// NewReTx retransmits the stored transport block on a shape-compatible
// grant.
func (p *DLProcess) NewReTx(slotTx, slotAck slot.Point, grant model.PRBGrant, dci *model.DLDCI) error {
	if err := p.newReTxGrant(slotTx, slotAck, grant); err != nil {
		return err
	}
	p.fillDCI(dci)
	return nil
}

// ULProcess is an uplink HARQ process. Uplink feedback is the CRC result
// of the PUSCH itself, so the feedback slot equals the transmission slot.
type ULProcess struct {
	process
}

func (p *ULProcess) fillDCI(dci *model.ULDCI) {
	dci.PID = p.pid
	dci.NDI = p.NDI()
	dci.MCS = p.MCS()
	dci.RV = rvSchedule[p.NumReTx()%4]
}

// NewTx starts a fresh uplink transmission.
func (p *ULProcess) NewTx(slotTx slot.Point, grant model.PRBGrant, mcs, maxReTx uint32, dci *model.ULDCI) error {
	if err := p.newTx(slotTx, slotTx, grant, mcs, maxReTx); err != nil {
		return err
	}
	p.fillDCI(dci)
	return nil
}

// NewReTx retransmits the stored transport block on a shape-compatible
// grant.
func (p *ULProcess) NewReTx(slotTx slot.Point, grant model.PRBGrant, dci *model.ULDCI) error {
	if err := p.newReTxGrant(slotTx, slotTx, grant); err != nil {
		return err
	}
	p.fillDCI(dci)
	return nil
}
