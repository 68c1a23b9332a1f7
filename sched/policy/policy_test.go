package policy

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/sched/grid"
	"github.com/signalsfoundry/ran-scheduler/sched/harq"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

func at(n uint32) slot.Point { return slot.New(slot.SCS30kHz, n) }

type fakeUE struct {
	index   model.UEIndex
	rnti    model.RNTI
	dlBytes uint32
	ulBytes uint32
	sr      bool
	harqs   *harq.Entity
}

func newFakeUE(index model.UEIndex, dlBytes, ulBytes uint32) *fakeUE {
	rnti := model.RNTI(0x4601 + index)
	return &fakeUE{
		index:   index,
		rnti:    rnti,
		dlBytes: dlBytes,
		ulBytes: ulBytes,
		harqs:   harq.NewEntity(index, rnti, 8),
	}
}

func (u *fakeUE) Index() model.UEIndex   { return u.index }
func (u *fakeUE) RNTI() model.RNTI       { return u.rnti }
func (u *fakeUE) DLPendingBytes() uint32 { return u.dlBytes }
func (u *fakeUE) ULPendingBytes() uint32 { return u.ulBytes }
func (u *fakeUE) HasSR() bool            { return u.sr }
func (u *fakeUE) HARQs() *harq.Entity    { return u.harqs }

type grantRecord struct {
	ue    model.UEIndex
	grant model.PRBGrant
	retx  bool
}

// fakeDLAlloc commits grants against a real cell grid and optionally caps
// the number of grants per slot, standing in for a full result list.
type fakeDLAlloc struct {
	g          *grid.CellGrid
	grants     []grantRecord
	slotGrants int
	limit      int
}

func (a *fakeDLAlloc) startSlot(sl slot.Point) {
	a.g.StartSlot(sl)
	a.slotGrants = 0
}

func (a *fakeDLAlloc) Slot() slot.Point { return a.g.Slot() }
func (a *fakeDLAlloc) FreePRBs() uint32 { return a.g.DLFree() }
func (a *fakeDLAlloc) FindFree(min, max uint32) model.PRBInterval {
	return a.g.FindFreeDL(min, max)
}

func (a *fakeDLAlloc) AllocReTx(rtx PendingDLReTx, grant model.PRBGrant) AllocOutcome {
	if a.limit > 0 && a.slotGrants >= a.limit {
		return OutcomeSkipSlot
	}
	if err := a.g.AllocDL(grant); err != nil {
		return OutcomeSkipUE
	}
	var dci model.DLDCI
	if err := rtx.Proc.NewReTx(a.g.Slot(), a.g.Slot().Add(4), grant, &dci); err != nil {
		return OutcomeSkipUE
	}
	a.record(rtx.UE.Index(), grant, true)
	return OutcomeSuccess
}

func (a *fakeDLAlloc) AllocNewTx(ue UECandidate, grant model.PRBGrant, mcs uint32) AllocOutcome {
	if a.limit > 0 && a.slotGrants >= a.limit {
		return OutcomeSkipSlot
	}
	if err := a.g.AllocDL(grant); err != nil {
		return OutcomeSkipUE
	}
	proc := ue.HARQs().EmptyDL()
	if proc == nil {
		return OutcomeSkipUE
	}
	var dci model.DLDCI
	if err := proc.NewTx(a.g.Slot(), a.g.Slot().Add(4), grant, mcs, 4, &dci); err != nil {
		return OutcomeSkipUE
	}
	a.record(ue.Index(), grant, false)
	return OutcomeSuccess
}

func (a *fakeDLAlloc) record(ue model.UEIndex, grant model.PRBGrant, retx bool) {
	a.grants = append(a.grants, grantRecord{ue: ue, grant: grant, retx: retx})
	a.slotGrants++
}

type fakeULAlloc struct {
	g          *grid.CellGrid
	grants     []grantRecord
	slotGrants int
	limit      int
}

func (a *fakeULAlloc) startSlot(sl slot.Point) {
	a.g.StartSlot(sl)
	a.slotGrants = 0
}

func (a *fakeULAlloc) Slot() slot.Point { return a.g.Slot() }
func (a *fakeULAlloc) FreePRBs() uint32 { return a.g.ULFree() }
func (a *fakeULAlloc) FindFree(min, max uint32) model.PRBInterval {
	return a.g.FindFreeUL(min, max)
}

func (a *fakeULAlloc) AllocReTx(rtx PendingULReTx, grant model.PRBGrant) AllocOutcome {
	if a.limit > 0 && a.slotGrants >= a.limit {
		return OutcomeSkipSlot
	}
	if err := a.g.AllocUL(grant); err != nil {
		return OutcomeSkipUE
	}
	var dci model.ULDCI
	if err := rtx.Proc.NewReTx(a.g.Slot(), grant, &dci); err != nil {
		return OutcomeSkipUE
	}
	a.grants = append(a.grants, grantRecord{ue: rtx.UE.Index(), grant: grant, retx: true})
	a.slotGrants++
	return OutcomeSuccess
}

func (a *fakeULAlloc) AllocNewTx(ue UECandidate, grant model.PRBGrant, mcs uint32) AllocOutcome {
	if a.limit > 0 && a.slotGrants >= a.limit {
		return OutcomeSkipSlot
	}
	if err := a.g.AllocUL(grant); err != nil {
		return OutcomeSkipUE
	}
	proc := ue.HARQs().EmptyUL()
	if proc == nil {
		return OutcomeSkipUE
	}
	var dci model.ULDCI
	if err := proc.NewTx(a.g.Slot(), grant, mcs, 4, &dci); err != nil {
		return OutcomeSkipUE
	}
	a.grants = append(a.grants, grantRecord{ue: ue.Index(), grant: grant, retx: false})
	a.slotGrants++
	return OutcomeSuccess
}

func newDLAlloc(t *testing.T, numPRBs uint32, limit int) *fakeDLAlloc {
	t.Helper()
	g, err := grid.NewCellGrid(0, numPRBs)
	if err != nil {
		t.Fatalf("NewCellGrid: %v", err)
	}
	return &fakeDLAlloc{g: g, limit: limit}
}

func newULAlloc(t *testing.T, numPRBs uint32, limit int) *fakeULAlloc {
	t.Helper()
	g, err := grid.NewCellGrid(0, numPRBs)
	if err != nil {
		t.Fatalf("NewCellGrid: %v", err)
	}
	return &fakeULAlloc{g: g, limit: limit}
}

func TestRoundRobinRotatesWithSlot(t *testing.T) {
	p := NewRoundRobin(nil)
	alloc := newDLAlloc(t, 52, 1)
	ues := []UECandidate{newFakeUE(0, 500, 0), newFakeUE(1, 500, 0), newFakeUE(2, 500, 0)}
	view := &grid.View{}

	var order []model.UEIndex
	for s := uint32(99); s < 105; s++ {
		alloc.startSlot(at(s))
		slice := SliceCandidate{Cell: 0, Slot: at(s), DefaultMCS: 5, UEs: ues}
		before := len(alloc.grants)
		p.SchedDL(alloc, view, slice, nil)
		if len(alloc.grants) != before+1 {
			t.Fatalf("slot %d: expected exactly one grant, got %d", s, len(alloc.grants)-before)
		}
		order = append(order, alloc.grants[len(alloc.grants)-1].ue)
	}

	want := []model.UEIndex{0, 1, 2, 0, 1, 2}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("serve order %v, want %v", order, want)
		}
	}
}

func TestRoundRobinServesReTxFirst(t *testing.T) {
	p := NewRoundRobin(nil)
	alloc := newDLAlloc(t, 52, 1)
	retxUE := newFakeUE(0, 0, 0)
	freshUE := newFakeUE(1, 1000, 0)

	// Put one of retxUE's processes into pending_retx.
	var dci model.DLDCI
	proc := retxUE.harqs.DL(0)
	if err := proc.NewTx(at(90), at(94), model.NewType1Grant(model.PRBInterval{Start: 0, Stop: 10}), 5, 4, &dci); err != nil {
		t.Fatalf("NewTx: %v", err)
	}
	if _, err := proc.AckInfo(0, false); err != nil {
		t.Fatalf("AckInfo: %v", err)
	}

	alloc.startSlot(at(100))
	slice := SliceCandidate{Cell: 0, Slot: at(100), DefaultMCS: 5, UEs: []UECandidate{freshUE, retxUE}}
	p.SchedDL(alloc, &grid.View{}, slice, []PendingDLReTx{{UE: retxUE, Proc: proc}})

	if len(alloc.grants) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(alloc.grants))
	}
	g := alloc.grants[0]
	if !g.retx || g.ue != 0 {
		t.Fatalf("retransmission not served first: %+v", g)
	}
	if g.grant.PRBs().Length() != 10 {
		t.Fatalf("retransmission grant length %d, want 10", g.grant.PRBs().Length())
	}
	if proc.State() != harq.StateWaitingACK || proc.NumReTx() != 1 {
		t.Fatalf("process after retransmission: %v nReTx=%d", proc.State(), proc.NumReTx())
	}
}

func TestReTxPostponedWithoutRoom(t *testing.T) {
	p := NewRoundRobin(nil)
	alloc := newDLAlloc(t, 24, 0)
	ue := newFakeUE(0, 0, 0)

	var dci model.DLDCI
	proc := ue.harqs.DL(0)
	if err := proc.NewTx(at(90), at(94), model.NewType1Grant(model.PRBInterval{Start: 0, Stop: 20}), 5, 4, &dci); err != nil {
		t.Fatalf("NewTx: %v", err)
	}
	if _, err := proc.AckInfo(0, false); err != nil {
		t.Fatalf("AckInfo: %v", err)
	}

	alloc.startSlot(at(100))
	// Book the middle of the grid so no 20-PRB run exists.
	if err := alloc.g.AllocDL(model.NewType1Grant(model.PRBInterval{Start: 10, Stop: 14})); err != nil {
		t.Fatalf("AllocDL: %v", err)
	}
	slice := SliceCandidate{Cell: 0, Slot: at(100), DefaultMCS: 5, UEs: []UECandidate{ue}}
	p.SchedDL(alloc, &grid.View{}, slice, []PendingDLReTx{{UE: ue, Proc: proc}})

	if len(alloc.grants) != 0 {
		t.Fatalf("expected no grants, got %+v", alloc.grants)
	}
	if proc.State() != harq.StatePendingReTx {
		t.Fatalf("postponed process state: %v", proc.State())
	}
}

func TestRoundRobinSkipsIdleUEs(t *testing.T) {
	p := NewRoundRobin(nil)
	alloc := newDLAlloc(t, 52, 0)
	idle := newFakeUE(0, 0, 0)
	busy := newFakeUE(1, 300, 0)

	alloc.startSlot(at(100))
	slice := SliceCandidate{Cell: 0, Slot: at(100), DefaultMCS: 5, UEs: []UECandidate{idle, busy}}
	p.SchedDL(alloc, &grid.View{}, slice, nil)

	if len(alloc.grants) != 1 || alloc.grants[0].ue != 1 {
		t.Fatalf("grants: %+v", alloc.grants)
	}
}

func TestULSchedulingRequestEarnsMinimalGrant(t *testing.T) {
	p := NewRoundRobin(nil)
	alloc := newULAlloc(t, 52, 0)
	ue := newFakeUE(0, 0, 0)
	ue.sr = true

	alloc.startSlot(at(100))
	slice := SliceCandidate{Cell: 0, Slot: at(100), DefaultMCS: 5, UEs: []UECandidate{ue}}
	p.SchedUL(alloc, &grid.View{}, slice, nil)

	if len(alloc.grants) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(alloc.grants))
	}
	if got := alloc.grants[0].grant.PRBs().Length(); got != 1 {
		t.Fatalf("SR grant length %d, want 1", got)
	}
	if ue.harqs.UL(0).Empty() {
		t.Fatalf("UL process not started")
	}
}

func TestPropFairAlternatesUnderContention(t *testing.T) {
	p := NewPropFair(nil)
	alloc := newDLAlloc(t, 52, 1)
	ues := []UECandidate{newFakeUE(0, 500, 0), newFakeUE(1, 500, 0)}

	var order []model.UEIndex
	for s := uint32(200); s < 204; s++ {
		alloc.startSlot(at(s))
		slice := SliceCandidate{Cell: 0, Slot: at(s), DefaultMCS: 5, UEs: ues}
		p.SchedDL(alloc, &grid.View{}, slice, nil)
		order = append(order, alloc.grants[len(alloc.grants)-1].ue)
	}

	want := []model.UEIndex{0, 1, 0, 1}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("serve order %v, want %v", order, want)
		}
	}
}

func TestPolicyFactory(t *testing.T) {
	p, err := New("", nil)
	if err != nil || p.Name() != KindRoundRobin {
		t.Fatalf("default policy: %v %v", p, err)
	}
	p, err = New(KindPropFair, nil)
	if err != nil || p.Name() != KindPropFair {
		t.Fatalf("proportional fair: %v %v", p, err)
	}
	if _, err = New("weighted_magic", nil); !errors.Is(err, ErrUnknownPolicy) {
		t.Fatalf("unknown policy: %v", err)
	}
}
