// Package model defines the public data model of the MAC scheduler:
// identifiers, resource-block grants, control information, feedback
// messages, and per-slot scheduling results exchanged with collaborators.
package model

import "fmt"

// CellIndex identifies a cell within the scheduler. Indexes are dense
// small integers so per-cell state can live in fixed-capacity arrays.
type CellIndex uint32

// MaxCells bounds the number of simultaneously active cells.
const MaxCells = 16

// InvalidCellIndex marks an unset cell index.
const InvalidCellIndex CellIndex = MaxCells

// Valid reports whether the index addresses a configurable cell.
func (c CellIndex) Valid() bool { return c < MaxCells }

// UEIndex identifies a UE within the scheduler. Like CellIndex, UE indexes
// are dense and bounded so UE state is kept in arena-style arrays.
type UEIndex uint32

// MaxUEs bounds the number of simultaneously configured UEs.
const MaxUEs = 1024

// InvalidUEIndex marks "no UE"; events carrying it are not bound to a UE.
const InvalidUEIndex UEIndex = MaxUEs

// Valid reports whether the index addresses a configurable UE.
func (u UEIndex) Valid() bool { return u < MaxUEs }

// RNTI is the radio network temporary identifier of a UE.
type RNTI uint16

// String renders the RNTI in the conventional hex form, e.g. "0x4601".
func (r RNTI) String() string { return fmt.Sprintf("0x%x", uint16(r)) }

// MaxHARQProcesses bounds the number of HARQ processes per UE per direction.
const MaxHARQProcesses = 16

// MaxPRBs is the largest supported carrier bandwidth in PRBs.
const MaxPRBs = 275

// MaxLCGs is the number of logical channel groups reported in a BSR.
const MaxLCGs = 8

// MaxLCIDs bounds the logical channel identifier space tracked per UE.
const MaxLCIDs = 32

// MaxGrantsPerSlot caps the DL or UL grant list of one slot result.
const MaxGrantsPerSlot = 16
