package model

import "github.com/signalsfoundry/ran-scheduler/slot"

// DLGrant is one scheduled downlink transmission.
type DLGrant struct {
	UEIndex  UEIndex
	RNTI     RNTI
	Grant    PRBGrant
	DCI      DLDCI
	TBSBytes uint32
	IsReTx   bool
}

// ULGrant is one scheduled uplink transmission.
type ULGrant struct {
	UEIndex  UEIndex
	RNTI     RNTI
	Grant    PRBGrant
	DCI      ULDCI
	TBSBytes uint32
	IsReTx   bool
}

// SchedResult is the outcome of scheduling one cell for one slot. The
// scheduler reuses the backing arrays between slots, so consumers must not
// retain the result past the next slot indication for the same cell.
type SchedResult struct {
	Slot      slot.Point
	CellIndex CellIndex
	DLGrants  []DLGrant
	ULGrants  []ULGrant
}
