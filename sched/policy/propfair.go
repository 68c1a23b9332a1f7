package policy

import (
	"sort"

	"github.com/signalsfoundry/ran-scheduler/internal/logging"
	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/sched/grid"
)

// pfAlpha is the weight of the newest slot in the served-throughput
// average.
const pfAlpha = 0.05

type servedBytes struct {
	ue    model.UEIndex
	bytes uint32
}

// PropFair serves pending retransmissions first, then new transmissions
// ordered by ascending exponentially averaged served bytes. With one MCS
// per cell the classic rate-over-average metric reduces to picking the
// most starved UE first. Averages are keyed by UE index; a reused index
// inherits a stale average that decays away within a few dozen slots.
type PropFair struct {
	log logging.Logger
	dl  [model.MaxUEs]float64
	ul  [model.MaxUEs]float64
}

// NewPropFair builds the proportional-fair policy.
func NewPropFair(log logging.Logger) *PropFair {
	if log == nil {
		log = logging.Noop()
	}
	return &PropFair{log: log}
}

func (p *PropFair) Name() string { return KindPropFair }

func (p *PropFair) SchedDL(alloc DLAllocator, view *grid.View, slice SliceCandidate, pending []PendingDLReTx) {
	var served []servedBytes
	full := false
	for _, rtx := range pending {
		out := dlReTx(p.log, alloc, rtx)
		if out == OutcomeSuccess {
			served = append(served, servedBytes{ue: rtx.UE.Index(), bytes: rtx.Proc.TBS()})
		}
		if out == OutcomeSkipSlot {
			full = true
			break
		}
	}
	if !full {
		for _, idx := range pfOrder(slice, p.dl[:]) {
			ue := slice.UEs[idx]
			out, bytes := dlNewTx(alloc, slice, ue)
			if out == OutcomeSuccess {
				served = append(served, servedBytes{ue: ue.Index(), bytes: bytes})
			}
			if out == OutcomeSkipSlot {
				break
			}
		}
	}
	pfUpdate(p.dl[:], slice, served)
}

func (p *PropFair) SchedUL(alloc ULAllocator, view *grid.View, slice SliceCandidate, pending []PendingULReTx) {
	var served []servedBytes
	full := false
	for _, rtx := range pending {
		out := ulReTx(p.log, alloc, rtx)
		if out == OutcomeSuccess {
			served = append(served, servedBytes{ue: rtx.UE.Index(), bytes: rtx.Proc.TBS()})
		}
		if out == OutcomeSkipSlot {
			full = true
			break
		}
	}
	if !full {
		for _, idx := range pfOrder(slice, p.ul[:]) {
			ue := slice.UEs[idx]
			out, bytes := ulNewTx(alloc, slice, ue)
			if out == OutcomeSuccess {
				served = append(served, servedBytes{ue: ue.Index(), bytes: bytes})
			}
			if out == OutcomeSkipSlot {
				break
			}
		}
	}
	pfUpdate(p.ul[:], slice, served)
}

// pfOrder returns candidate positions sorted by ascending average served
// bytes, ties broken by position so the order is deterministic.
func pfOrder(slice SliceCandidate, avg []float64) []int {
	order := make([]int, len(slice.UEs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return avg[slice.UEs[order[a]].Index()] < avg[slice.UEs[order[b]].Index()]
	})
	return order
}

// pfUpdate folds this slot's served bytes into the averages of every
// candidate, including the ones that received nothing.
func pfUpdate(avg []float64, slice SliceCandidate, served []servedBytes) {
	for _, ue := range slice.UEs {
		avg[ue.Index()] *= 1 - pfAlpha
	}
	for _, s := range served {
		avg[s.ue] += pfAlpha * float64(s.bytes)
	}
}
