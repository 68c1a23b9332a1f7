package model

import (
	"fmt"

	"github.com/signalsfoundry/ran-scheduler/slot"
)

// CellConfigRequest asks the scheduler to activate a cell. Configuration is
// applied synchronously so later slot indications for the cell are valid
// immediately after the call returns.
type CellConfigRequest struct {
	CellIndex        CellIndex
	SCS              slot.Numerology
	NumPRBs          uint32
	NumHARQProcesses uint8
	MaxReTx          uint32
	DefaultMCS       uint32
	// MaxPRBsPerUE caps the PRBs a single new transmission may occupy.
	// Zero leaves the whole carrier available to any UE.
	MaxPRBsPerUE uint32
	TDD          *TDDConfig
	Policy       string
}

// RejectCause classifies why a configuration request was refused.
type RejectCause uint8

const (
	// CauseSemanticError marks a request whose fields are out of range or
	// mutually inconsistent.
	CauseSemanticError RejectCause = iota
	// CauseIncompatibleState marks a request that conflicts with cells or
	// UEs the scheduler already tracks.
	CauseIncompatibleState
)

func (c RejectCause) String() string {
	switch c {
	case CauseSemanticError:
		return "semantic error"
	case CauseIncompatibleState:
		return "incompatible state"
	default:
		return fmt.Sprintf("cause(%d)", uint8(c))
	}
}

// ConfigRejection explains a refused configuration request.
type ConfigRejection struct {
	Cause   RejectCause
	Message string
}

func (r *ConfigRejection) Error() string {
	return fmt.Sprintf("config rejected (%s): %s", r.Cause, r.Message)
}

// UECreationRequest asks the scheduler to start serving a UE. PCell is the
// primary carrier; SCells lists any secondary carriers for aggregation.
type UECreationRequest struct {
	UEIndex UEIndex
	RNTI    RNTI
	PCell   CellIndex
	SCells  []CellIndex
}

// UEDeletionRequest asks the scheduler to stop serving a UE.
type UEDeletionRequest struct {
	UEIndex UEIndex
}

// SRIndication reports a scheduling request received from a UE. LCID names
// the logical channel the SR configuration belongs to.
type SRIndication struct {
	UEIndex UEIndex
	LCID    uint8
}

// LCGReport is the buffer occupancy of one logical channel group.
type LCGReport struct {
	LCG   uint8
	Bytes uint32
}

// ULBSRIndication reports the uplink buffer status of a UE.
type ULBSRIndication struct {
	UEIndex UEIndex
	Reports []LCGReport
}

// RACHIndication reports a random access preamble detected by a cell.
type RACHIndication struct {
	CellIndex     CellIndex
	PreambleID    uint32
	TimingAdvance uint32
	SlotRx        slot.Point
}

// DLBufferStateIndication reports the downlink queue occupancy of one
// logical channel of a UE.
type DLBufferStateIndication struct {
	UEIndex UEIndex
	LCID    uint8
	Bytes   uint32
}

// DLHARQACKIndication carries a UE's HARQ-ACK feedback for one downlink
// transport block.
type DLHARQACKIndication struct {
	UEIndex   UEIndex
	CellIndex CellIndex
	PID       uint8
	ACK       bool
}

// ULCRCIndication carries the decode outcome of one uplink transport block.
type ULCRCIndication struct {
	UEIndex   UEIndex
	CellIndex CellIndex
	PID       uint8
	OK        bool
}
