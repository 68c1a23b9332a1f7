package sched

import (
	"fmt"

	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/sched/policy"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

// dlAlloc implements policy.DLAllocator for one cell and one slot. Each
// request is validated, booked on the resource grid, driven through the
// HARQ process, and recorded in the slot result, in that order. A HARQ
// rejection after the checks passed is a state-machine bug and panics.
type dlAlloc struct {
	c *cellContext
}

func (a dlAlloc) Slot() slot.Point { return a.c.lastSlot }
func (a dlAlloc) FreePRBs() uint32 { return a.c.grid.DLFree() }

func (a dlAlloc) FindFree(min, max uint32) model.PRBInterval {
	return a.c.grid.FindFreeDL(min, max)
}

func (a dlAlloc) AllocReTx(rtx policy.PendingDLReTx, grant model.PRBGrant) policy.AllocOutcome {
	c := a.c
	if len(c.result.DLGrants) >= model.MaxGrantsPerSlot {
		return policy.OutcomeSkipSlot
	}
	if rtx.Proc == nil || !rtx.Proc.HasPendingReTx() ||
		rtx.Proc.NumReTx() >= rtx.Proc.MaxReTx() || !grant.SameShape(rtx.Proc.Grant()) {
		return policy.OutcomeInvalidParams
	}
	if err := c.grid.AllocDL(grant); err != nil {
		return policy.OutcomeSkipUE
	}
	dci := model.DLDCI{Format: model.DCIFormat1_0}
	if err := rtx.Proc.NewReTx(c.lastSlot, c.lastSlot.Add(int(c.sched.cfg.K1)), grant, &dci); err != nil {
		panic(fmt.Sprintf("sched: retransmission rejected after validation: %v", err))
	}
	c.result.DLGrants = append(c.result.DLGrants, model.DLGrant{
		UEIndex:  rtx.UE.Index(),
		RNTI:     rtx.UE.RNTI(),
		Grant:    grant,
		DCI:      dci,
		TBSBytes: rtx.Proc.TBS(),
		IsReTx:   true,
	})
	return policy.OutcomeSuccess
}

func (a dlAlloc) AllocNewTx(ueIn policy.UECandidate, grant model.PRBGrant, mcs uint32) policy.AllocOutcome {
	c := a.c
	if len(c.result.DLGrants) >= model.MaxGrantsPerSlot {
		return policy.OutcomeSkipSlot
	}
	cand, ok := ueIn.(ueCandidate)
	if !ok || grant.Empty() || mcs > model.MaxMCS {
		return policy.OutcomeInvalidParams
	}
	proc := cand.carrier.harqs.EmptyDL()
	if proc == nil {
		return policy.OutcomeSkipUE
	}
	if err := c.grid.AllocDL(grant); err != nil {
		return policy.OutcomeSkipUE
	}
	dci := model.DLDCI{Format: model.DCIFormat1_0}
	ack := c.lastSlot.Add(int(c.sched.cfg.K1))
	if err := proc.NewTx(c.lastSlot, ack, grant, mcs, c.cfg.maxReTx, &dci); err != nil {
		panic(fmt.Sprintf("sched: new transmission rejected on empty process: %v", err))
	}
	tbs := model.TBSBytes(mcs, c.grid.GrantPRBs(grant))
	if err := proc.SetTBS(tbs); err != nil {
		panic(fmt.Sprintf("sched: sizing transport block: %v", err))
	}
	cand.ue.consumeDL(tbs)
	c.result.DLGrants = append(c.result.DLGrants, model.DLGrant{
		UEIndex:  cand.ue.index,
		RNTI:     cand.ue.rnti,
		Grant:    grant,
		DCI:      dci,
		TBSBytes: tbs,
		IsReTx:   false,
	})
	return policy.OutcomeSuccess
}

// ulAlloc is the uplink counterpart of dlAlloc. Uplink feedback is the
// decoder CRC of the granted slot itself, so no separate feedback slot is
// booked.
type ulAlloc struct {
	c *cellContext
}

func (a ulAlloc) Slot() slot.Point { return a.c.lastSlot }
func (a ulAlloc) FreePRBs() uint32 { return a.c.grid.ULFree() }

func (a ulAlloc) FindFree(min, max uint32) model.PRBInterval {
	return a.c.grid.FindFreeUL(min, max)
}

func (a ulAlloc) AllocReTx(rtx policy.PendingULReTx, grant model.PRBGrant) policy.AllocOutcome {
	c := a.c
	if len(c.result.ULGrants) >= model.MaxGrantsPerSlot {
		return policy.OutcomeSkipSlot
	}
	if rtx.Proc == nil || !rtx.Proc.HasPendingReTx() ||
		rtx.Proc.NumReTx() >= rtx.Proc.MaxReTx() || !grant.SameShape(rtx.Proc.Grant()) {
		return policy.OutcomeInvalidParams
	}
	if err := c.grid.AllocUL(grant); err != nil {
		return policy.OutcomeSkipUE
	}
	var dci model.ULDCI
	if err := rtx.Proc.NewReTx(c.lastSlot, grant, &dci); err != nil {
		panic(fmt.Sprintf("sched: retransmission rejected after validation: %v", err))
	}
	c.result.ULGrants = append(c.result.ULGrants, model.ULGrant{
		UEIndex:  rtx.UE.Index(),
		RNTI:     rtx.UE.RNTI(),
		Grant:    grant,
		DCI:      dci,
		TBSBytes: rtx.Proc.TBS(),
		IsReTx:   true,
	})
	return policy.OutcomeSuccess
}

func (a ulAlloc) AllocNewTx(ueIn policy.UECandidate, grant model.PRBGrant, mcs uint32) policy.AllocOutcome {
	c := a.c
	if len(c.result.ULGrants) >= model.MaxGrantsPerSlot {
		return policy.OutcomeSkipSlot
	}
	cand, ok := ueIn.(ueCandidate)
	if !ok || grant.Empty() || mcs > model.MaxMCS {
		return policy.OutcomeInvalidParams
	}
	proc := cand.carrier.harqs.EmptyUL()
	if proc == nil {
		return policy.OutcomeSkipUE
	}
	if err := c.grid.AllocUL(grant); err != nil {
		return policy.OutcomeSkipUE
	}
	var dci model.ULDCI
	if err := proc.NewTx(c.lastSlot, grant, mcs, c.cfg.maxReTx, &dci); err != nil {
		panic(fmt.Sprintf("sched: new transmission rejected on empty process: %v", err))
	}
	tbs := model.TBSBytes(mcs, c.grid.GrantPRBs(grant))
	if err := proc.SetTBS(tbs); err != nil {
		panic(fmt.Sprintf("sched: sizing transport block: %v", err))
	}
	cand.ue.consumeUL(tbs)
	c.result.ULGrants = append(c.result.ULGrants, model.ULGrant{
		UEIndex:  cand.ue.index,
		RNTI:     cand.ue.rnti,
		Grant:    grant,
		DCI:      dci,
		TBSBytes: tbs,
		IsReTx:   false,
	})
	return policy.OutcomeSuccess
}
