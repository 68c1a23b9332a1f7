// Package policy defines the pluggable allocation strategy invoked by the
// cell scheduling manager each slot, plus the built-in strategies.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/ran-scheduler/internal/logging"
	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/sched/grid"
	"github.com/signalsfoundry/ran-scheduler/sched/harq"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

// AllocOutcome is the result of one allocation attempt.
type AllocOutcome uint8

const (
	// OutcomeSuccess means the grant was committed.
	OutcomeSuccess AllocOutcome = iota
	// OutcomeSkipSlot means the cell cannot take further grants this slot.
	OutcomeSkipSlot
	// OutcomeSkipUE means this UE cannot be served this slot; the policy
	// should move on to the next candidate.
	OutcomeSkipUE
	// OutcomeInvalidParams means the request itself was malformed.
	OutcomeInvalidParams
)

func (o AllocOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipSlot:
		return "skip_slot"
	case OutcomeSkipUE:
		return "skip_ue"
	case OutcomeInvalidParams:
		return "invalid_params"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// UECandidate is the per-UE state a policy may inspect while allocating.
type UECandidate interface {
	Index() model.UEIndex
	RNTI() model.RNTI
	DLPendingBytes() uint32
	ULPendingBytes() uint32
	HasSR() bool
	HARQs() *harq.Entity
}

// SliceCandidate bundles the schedulable UEs of one cell for one slot.
// MaxUEPRBs caps the PRBs a single new transmission may occupy; zero
// means the whole carrier is available to any UE.
type SliceCandidate struct {
	Cell       model.CellIndex
	Slot       slot.Point
	DefaultMCS uint32
	MaxUEPRBs  uint32
	UEs        []UECandidate
}

// PendingDLReTx identifies a downlink process awaiting retransmission.
type PendingDLReTx struct {
	UE   UECandidate
	Proc *harq.DLProcess
}

// PendingULReTx identifies an uplink process awaiting retransmission.
type PendingULReTx struct {
	UE   UECandidate
	Proc *harq.ULProcess
}

// DLAllocator is the only path through which a policy commits downlink
// resources. It rejects double-booked PRBs, so a policy can probe with
// FindFree and trust the outcome of the alloc calls.
type DLAllocator interface {
	Slot() slot.Point
	FreePRBs() uint32
	FindFree(min, max uint32) model.PRBInterval
	AllocReTx(rtx PendingDLReTx, grant model.PRBGrant) AllocOutcome
	AllocNewTx(ue UECandidate, grant model.PRBGrant, mcs uint32) AllocOutcome
}

// ULAllocator is the uplink counterpart of DLAllocator.
type ULAllocator interface {
	Slot() slot.Point
	FreePRBs() uint32
	FindFree(min, max uint32) model.PRBInterval
	AllocReTx(rtx PendingULReTx, grant model.PRBGrant) AllocOutcome
	AllocNewTx(ue UECandidate, grant model.PRBGrant, mcs uint32) AllocOutcome
}

// Policy decides which UEs receive grants in one cell for one slot. The
// view is shared read-only state and must not be mutated; all resource
// commitment goes through the allocator. Implementations must not block:
// they run inside the slot-processing deadline. A pending retransmission
// that cannot be served must be skipped through an explicit outcome or a
// logged postponement, never silently.
type Policy interface {
	Name() string
	SchedDL(alloc DLAllocator, view *grid.View, slice SliceCandidate, pending []PendingDLReTx)
	SchedUL(alloc ULAllocator, view *grid.View, slice SliceCandidate, pending []PendingULReTx)
}

// Names accepted by New.
const (
	KindRoundRobin = "round_robin"
	KindPropFair   = "proportional_fair"
)

var ErrUnknownPolicy = errors.New("unknown scheduling policy")

// New builds a policy by name. The empty name selects round robin.
func New(kind string, log logging.Logger) (Policy, error) {
	switch kind {
	case "", KindRoundRobin:
		return NewRoundRobin(log), nil
	case KindPropFair:
		return NewPropFair(log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, kind)
	}
}

// srGrantBytes sizes the uplink grant handed to a UE that signalled a
// scheduling request but has reported no buffer: enough for a BSR and a
// little data.
const srGrantBytes = 8

func capPRBs(want, max uint32) uint32 {
	if max > 0 && want > max {
		return max
	}
	return want
}

// dlReTx places one pending downlink retransmission. Contiguous originals
// get the first free interval of equal length; bitmap originals are
// retried on their previous resources.
func dlReTx(log logging.Logger, alloc DLAllocator, rtx PendingDLReTx) AllocOutcome {
	prev := rtx.Proc.Grant()
	grant := prev
	if prev.IsType1() {
		free := alloc.FindFree(prev.PRBs().Length(), prev.PRBs().Length())
		if free.Empty() {
			logPostponed(log, "DL", rtx.UE, rtx.Proc.PID())
			return OutcomeSkipUE
		}
		grant = model.NewType1Grant(free)
	}
	out := alloc.AllocReTx(rtx, grant)
	if out == OutcomeSkipUE {
		logPostponed(log, "DL", rtx.UE, rtx.Proc.PID())
	}
	return out
}

// ulReTx is dlReTx for the uplink.
func ulReTx(log logging.Logger, alloc ULAllocator, rtx PendingULReTx) AllocOutcome {
	prev := rtx.Proc.Grant()
	grant := prev
	if prev.IsType1() {
		free := alloc.FindFree(prev.PRBs().Length(), prev.PRBs().Length())
		if free.Empty() {
			logPostponed(log, "UL", rtx.UE, rtx.Proc.PID())
			return OutcomeSkipUE
		}
		grant = model.NewType1Grant(free)
	}
	out := alloc.AllocReTx(rtx, grant)
	if out == OutcomeSkipUE {
		logPostponed(log, "UL", rtx.UE, rtx.Proc.PID())
	}
	return out
}

func logPostponed(log logging.Logger, dir string, ue UECandidate, pid uint8) {
	log.Debug(context.Background(), "postponing retransmission: no resources available",
		logging.String("direction", dir),
		logging.String("rnti", ue.RNTI().String()),
		logging.Int("pid", int(pid)))
}

// dlNewTx allocates a fresh downlink transmission for one candidate,
// sized to its pending bytes at the slice's default MCS. On success it
// also returns the transport block size granted.
func dlNewTx(alloc DLAllocator, slice SliceCandidate, ue UECandidate) (AllocOutcome, uint32) {
	bytes := ue.DLPendingBytes()
	if bytes == 0 {
		return OutcomeSkipUE, 0
	}
	if ue.HARQs().EmptyDL() == nil {
		return OutcomeSkipUE, 0
	}
	want := capPRBs(model.PRBsForBytes(bytes, slice.DefaultMCS), slice.MaxUEPRBs)
	free := alloc.FindFree(1, want)
	if free.Empty() {
		return OutcomeSkipSlot, 0
	}
	out := alloc.AllocNewTx(ue, model.NewType1Grant(free), slice.DefaultMCS)
	if out != OutcomeSuccess {
		return out, 0
	}
	return out, model.TBSBytes(slice.DefaultMCS, free.Length())
}

// ulNewTx allocates a fresh uplink transmission. A bare scheduling
// request with no reported buffer earns a minimal grant.
func ulNewTx(alloc ULAllocator, slice SliceCandidate, ue UECandidate) (AllocOutcome, uint32) {
	bytes := ue.ULPendingBytes()
	if bytes == 0 {
		if !ue.HasSR() {
			return OutcomeSkipUE, 0
		}
		bytes = srGrantBytes
	}
	if ue.HARQs().EmptyUL() == nil {
		return OutcomeSkipUE, 0
	}
	want := capPRBs(model.PRBsForBytes(bytes, slice.DefaultMCS), slice.MaxUEPRBs)
	free := alloc.FindFree(1, want)
	if free.Empty() {
		return OutcomeSkipSlot, 0
	}
	out := alloc.AllocNewTx(ue, model.NewType1Grant(free), slice.DefaultMCS)
	if out != OutcomeSuccess {
		return out, 0
	}
	return out, model.TBSBytes(slice.DefaultMCS, free.Length())
}
