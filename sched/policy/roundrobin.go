package policy

import (
	"github.com/signalsfoundry/ran-scheduler/internal/logging"
	"github.com/signalsfoundry/ran-scheduler/sched/grid"
)

// RoundRobin serves pending retransmissions first, then new transmissions
// in UE order starting from an offset that rotates with the slot count.
// It keeps no state, so every cell can share one instance.
type RoundRobin struct {
	log logging.Logger
}

// NewRoundRobin builds the round-robin policy.
func NewRoundRobin(log logging.Logger) *RoundRobin {
	if log == nil {
		log = logging.Noop()
	}
	return &RoundRobin{log: log}
}

func (p *RoundRobin) Name() string { return KindRoundRobin }

func (p *RoundRobin) SchedDL(alloc DLAllocator, view *grid.View, slice SliceCandidate, pending []PendingDLReTx) {
	for _, rtx := range pending {
		if dlReTx(p.log, alloc, rtx) == OutcomeSkipSlot {
			return
		}
	}
	n := len(slice.UEs)
	if n == 0 {
		return
	}
	start := int(slice.Slot.Count()) % n
	for i := 0; i < n; i++ {
		ue := slice.UEs[(start+i)%n]
		if out, _ := dlNewTx(alloc, slice, ue); out == OutcomeSkipSlot {
			return
		}
	}
}

func (p *RoundRobin) SchedUL(alloc ULAllocator, view *grid.View, slice SliceCandidate, pending []PendingULReTx) {
	for _, rtx := range pending {
		if ulReTx(p.log, alloc, rtx) == OutcomeSkipSlot {
			return
		}
	}
	n := len(slice.UEs)
	if n == 0 {
		return
	}
	start := int(slice.Slot.Count()) % n
	for i := 0; i < n; i++ {
		ue := slice.UEs[(start+i)%n]
		if out, _ := ulNewTx(alloc, slice, ue); out == OutcomeSkipSlot {
			return
		}
	}
}
