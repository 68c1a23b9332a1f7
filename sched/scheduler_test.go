package sched

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/sched/harq"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

func at(n uint32) slot.Point { return slot.New(slot.SCS30kHz, n) }

func testCellConfig(idx model.CellIndex) model.CellConfigRequest {
	return model.CellConfigRequest{
		CellIndex:        idx,
		SCS:              slot.SCS30kHz,
		NumPRBs:          52,
		NumHARQProcesses: 16,
		MaxReTx:          4,
		DefaultMCS:       9,
	}
}

func mustConfigureCell(t *testing.T, s *Scheduler, idx model.CellIndex) {
	t.Helper()
	if rej := s.HandleCellConfigRequest(testCellConfig(idx)); rej != nil {
		t.Fatalf("cell %d configuration rejected: %v", idx, rej)
	}
}

func pushUE(t *testing.T, s *Scheduler, idx model.UEIndex, rnti model.RNTI, pcell model.CellIndex, scells ...model.CellIndex) {
	t.Helper()
	err := s.HandleUECreationRequest(model.UECreationRequest{
		UEIndex: idx,
		RNTI:    rnti,
		PCell:   pcell,
		SCells:  scells,
	})
	if err != nil {
		t.Fatalf("ue %d creation request: %v", idx, err)
	}
}

type notifyRecorder struct {
	configured []model.UEIndex
	failed     []model.UEIndex
	deleted    []model.UEIndex
}

func (n *notifyRecorder) UEConfigComplete(ue model.UEIndex, ok bool) {
	if ok {
		n.configured = append(n.configured, ue)
		return
	}
	n.failed = append(n.failed, ue)
}

func (n *notifyRecorder) UEDeleteComplete(ue model.UEIndex) {
	n.deleted = append(n.deleted, ue)
}

// metricsProbe records the drop and requeue counters; everything else
// falls through to the nop recorder.
type metricsProbe struct {
	nopMetrics
	dropped  map[string]int
	requeued int
}

func newMetricsProbe() *metricsProbe { return &metricsProbe{dropped: map[string]int{}} }

func (m *metricsProbe) EventDropped(reason string) { m.dropped[reason]++ }
func (m *metricsProbe) EventRequeued()             { m.requeued++ }

type discardRecord struct {
	ue  model.UEIndex
	dir harq.Direction
	pid uint8
}

type discardLog struct {
	records []discardRecord
}

func (d *discardLog) HARQDiscarded(ue model.UEIndex, rnti model.RNTI, dir harq.Direction, pid uint8) {
	d.records = append(d.records, discardRecord{ue: ue, dir: dir, pid: pid})
}

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: no panic", name)
		}
	}()
	fn()
}

func TestCellConfigRejectsBadParameters(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*model.CellConfigRequest)
	}{
		{"cell index out of range", func(r *model.CellConfigRequest) { r.CellIndex = model.MaxCells }},
		{"zero bandwidth", func(r *model.CellConfigRequest) { r.NumPRBs = 0 }},
		{"bandwidth above maximum", func(r *model.CellConfigRequest) { r.NumPRBs = model.MaxPRBs + 1 }},
		{"zero harq processes", func(r *model.CellConfigRequest) { r.NumHARQProcesses = 0 }},
		{"too many harq processes", func(r *model.CellConfigRequest) { r.NumHARQProcesses = model.MaxHARQProcesses + 1 }},
		{"mcs above maximum", func(r *model.CellConfigRequest) { r.DefaultMCS = model.MaxMCS + 1 }},
		{"per-ue cap above bandwidth", func(r *model.CellConfigRequest) { r.MaxPRBsPerUE = r.NumPRBs + 1 }},
		{"tdd pattern overcommitted", func(r *model.CellConfigRequest) {
			r.TDD = &model.TDDConfig{PeriodSlots: 4, DLSlots: 3, ULSlots: 2}
		}},
		{"unknown policy", func(r *model.CellConfigRequest) { r.Policy = "weighted_fair" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New()
			req := testCellConfig(0)
			tc.mutate(&req)
			rej := s.HandleCellConfigRequest(req)
			if rej == nil {
				t.Fatalf("configuration accepted")
			}
			if rej.Cause != model.CauseSemanticError {
				t.Fatalf("cause = %v, want semantic error", rej.Cause)
			}
			if s.NumCells() != 0 {
				t.Fatalf("rejected configuration left a cell behind")
			}
		})
	}
}

func TestCellReconfigurationRejected(t *testing.T) {
	s := New()
	mustConfigureCell(t, s, 0)
	rej := s.HandleCellConfigRequest(testCellConfig(0))
	if rej == nil {
		t.Fatalf("reconfiguration accepted")
	}
	if rej.Cause != model.CauseIncompatibleState {
		t.Fatalf("cause = %v, want incompatible state", rej.Cause)
	}
}

func TestRejectedCellConfigLeavesOthersRunning(t *testing.T) {
	s := New()
	mustConfigureCell(t, s, 0)
	pushUE(t, s, 1, 0x4601, 0)
	s.SlotIndication(at(100), 0)
	s.HandleDLBufferStateIndication(model.DLBufferStateIndication{UEIndex: 1, LCID: 0, Bytes: 300})

	if rej := s.HandleCellConfigRequest(testCellConfig(model.MaxCells)); rej == nil {
		t.Fatalf("out-of-range cell index accepted")
	}

	res := s.SlotIndication(at(101), 0)
	if len(res.DLGrants) != 1 {
		t.Fatalf("cell 0 produced %d DL grants after a rejected config, want 1", len(res.DLGrants))
	}
}

func TestUECreationAppliesOnSlotPath(t *testing.T) {
	notes := &notifyRecorder{}
	s := New(WithConfigNotifier(notes))
	mustConfigureCell(t, s, 0)

	pushUE(t, s, 3, 0x4603, 0)
	if s.NumUEs() != 0 {
		t.Fatalf("UE visible before any slot ran")
	}
	s.SlotIndication(at(100), 0)
	if s.NumUEs() != 1 {
		t.Fatalf("NumUEs = %d after creation slot, want 1", s.NumUEs())
	}
	if diff := cmp.Diff([]model.UEIndex{3}, notes.configured); diff != "" {
		t.Fatalf("configured UEs mismatch (-want +got):\n%s", diff)
	}

	// Same RNTI again fails on the slot path and reports through the
	// notifier.
	pushUE(t, s, 4, 0x4603, 0)
	s.SlotIndication(at(101), 0)
	if diff := cmp.Diff([]model.UEIndex{4}, notes.failed); diff != "" {
		t.Fatalf("failed UEs mismatch (-want +got):\n%s", diff)
	}

	// A carrier on an unconfigured cell also fails late.
	pushUE(t, s, 5, 0x4605, 0, 2)
	s.SlotIndication(at(102), 0)
	if diff := cmp.Diff([]model.UEIndex{4, 5}, notes.failed); diff != "" {
		t.Fatalf("failed UEs mismatch (-want +got):\n%s", diff)
	}
	if s.NumUEs() != 1 {
		t.Fatalf("NumUEs = %d after failed creations, want 1", s.NumUEs())
	}
}

func TestSRProducesMinimalULGrant(t *testing.T) {
	s := New()
	mustConfigureCell(t, s, 0)
	pushUE(t, s, 1, 0x4601, 0)
	s.SlotIndication(at(100), 0)

	s.HandleSRIndication(model.SRIndication{UEIndex: 1, LCID: 4})
	res := s.SlotIndication(at(101), 0)
	if len(res.ULGrants) != 1 {
		t.Fatalf("UL grants = %d, want 1", len(res.ULGrants))
	}
	g := res.ULGrants[0]
	if g.UEIndex != 1 || g.RNTI != 0x4601 || g.IsReTx {
		t.Fatalf("unexpected grant %+v", g)
	}
	if got := g.Grant.PRBs().Length(); got != 1 {
		t.Fatalf("grant length = %d PRBs, want 1", got)
	}
	if g.TBSBytes < 8 {
		t.Fatalf("TBS = %d bytes, below the minimal SR grant", g.TBSBytes)
	}
	if u := s.repo.get(1); u.sr {
		t.Fatalf("scheduling request still outstanding after grant")
	}

	res = s.SlotIndication(at(102), 0)
	if len(res.ULGrants) != 0 {
		t.Fatalf("UL grants = %d on an idle slot, want 0", len(res.ULGrants))
	}
}

func TestDLBufferDrivesGrantSize(t *testing.T) {
	s := New()
	mustConfigureCell(t, s, 0)
	pushUE(t, s, 1, 0x4601, 0)
	s.SlotIndication(at(100), 0)

	s.HandleDLBufferStateIndication(model.DLBufferStateIndication{UEIndex: 1, LCID: 0, Bytes: 300})
	res := s.SlotIndication(at(101), 0)
	if len(res.DLGrants) != 1 {
		t.Fatalf("DL grants = %d, want 1", len(res.DLGrants))
	}
	g := res.DLGrants[0]
	if got := g.Grant.PRBs().Length(); got != 12 {
		t.Fatalf("grant length = %d PRBs for 300 bytes at MCS 9, want 12", got)
	}
	if g.TBSBytes != 310 {
		t.Fatalf("TBS = %d bytes, want 310", g.TBSBytes)
	}
	if g.DCI.MCS != 9 || g.DCI.RV != 0 || !g.DCI.NDI {
		t.Fatalf("first transmission DCI = %+v", g.DCI)
	}
	if g.DCI.HARQFeedback != 3 {
		t.Fatalf("feedback timing = %d, want K1-1 = 3", g.DCI.HARQFeedback)
	}
	if pending := s.repo.get(1).dlPending(); pending != 0 {
		t.Fatalf("pending DL bytes = %d after a covering grant, want 0", pending)
	}

	res = s.SlotIndication(at(102), 0)
	if len(res.DLGrants) != 0 {
		t.Fatalf("DL grants = %d with empty buffers, want 0", len(res.DLGrants))
	}
}

func TestPerUEPRBCapLimitsGrantSize(t *testing.T) {
	s := New()
	req := testCellConfig(0)
	req.MaxPRBsPerUE = 4
	if rej := s.HandleCellConfigRequest(req); rej != nil {
		t.Fatalf("cell configuration rejected: %v", rej)
	}
	pushUE(t, s, 1, 0x4601, 0)
	s.SlotIndication(at(100), 0)

	s.HandleDLBufferStateIndication(model.DLBufferStateIndication{UEIndex: 1, LCID: 0, Bytes: 5000})
	res := s.SlotIndication(at(101), 0)
	if len(res.DLGrants) != 1 {
		t.Fatalf("DL grants = %d, want 1", len(res.DLGrants))
	}
	if got := res.DLGrants[0].Grant.PRBs().Length(); got != 4 {
		t.Fatalf("grant length = %d PRBs under a 4 PRB cap, want 4", got)
	}

	// The buffer outlives the capped grant, so the next slot serves the
	// same UE again at the cap.
	res = s.SlotIndication(at(102), 0)
	if len(res.DLGrants) != 1 {
		t.Fatalf("DL grants = %d on the following slot, want 1", len(res.DLGrants))
	}
	if got := res.DLGrants[0].Grant.PRBs().Length(); got != 4 {
		t.Fatalf("follow-up grant length = %d PRBs, want 4", got)
	}
}

func TestNackTriggersRetransmission(t *testing.T) {
	s := New()
	mustConfigureCell(t, s, 0)
	pushUE(t, s, 1, 0x4601, 0)
	s.SlotIndication(at(100), 0)

	s.HandleDLBufferStateIndication(model.DLBufferStateIndication{UEIndex: 1, LCID: 0, Bytes: 300})
	first := s.SlotIndication(at(101), 0)
	if len(first.DLGrants) != 1 {
		t.Fatalf("DL grants = %d, want 1", len(first.DLGrants))
	}
	g := first.DLGrants[0]

	s.HandleDLHARQACKIndication(model.DLHARQACKIndication{UEIndex: 1, CellIndex: 0, PID: g.DCI.PID, ACK: false})
	res := s.SlotIndication(at(102), 0)
	if len(res.DLGrants) != 1 {
		t.Fatalf("DL grants = %d after NACK, want 1", len(res.DLGrants))
	}
	rtx := res.DLGrants[0]
	if !rtx.IsReTx {
		t.Fatalf("grant after NACK not marked as retransmission")
	}
	if rtx.DCI.PID != g.DCI.PID {
		t.Fatalf("retransmission on pid %d, want %d", rtx.DCI.PID, g.DCI.PID)
	}
	if rtx.DCI.NDI != g.DCI.NDI {
		t.Fatalf("NDI flipped on retransmission")
	}
	if rtx.DCI.RV != 2 {
		t.Fatalf("RV = %d on first retransmission, want 2", rtx.DCI.RV)
	}
	if rtx.TBSBytes != g.TBSBytes {
		t.Fatalf("TBS = %d on retransmission, want %d", rtx.TBSBytes, g.TBSBytes)
	}
	if got, want := rtx.Grant.PRBs().Length(), g.Grant.PRBs().Length(); got != want {
		t.Fatalf("retransmission length = %d PRBs, want %d", got, want)
	}

	s.HandleDLHARQACKIndication(model.DLHARQACKIndication{UEIndex: 1, CellIndex: 0, PID: g.DCI.PID, ACK: true})
	res = s.SlotIndication(at(103), 0)
	if len(res.DLGrants) != 0 {
		t.Fatalf("DL grants = %d after ACK, want 0", len(res.DLGrants))
	}
	if st := s.repo.get(1).carrier(0).harqs.DL(g.DCI.PID).State(); st != harq.StateEmpty {
		t.Fatalf("process state = %v after ACK, want empty", st)
	}
}

func TestMissingFeedbackRunsDownRetransmissionBudget(t *testing.T) {
	discards := &discardLog{}
	s := New(WithDiscardObserver(discards))
	mustConfigureCell(t, s, 0)
	pushUE(t, s, 1, 0x4601, 0)
	s.SlotIndication(at(100), 0)

	s.HandleDLBufferStateIndication(model.DLBufferStateIndication{UEIndex: 1, LCID: 0, Bytes: 300})
	res := s.SlotIndication(at(101), 0)
	if len(res.DLGrants) != 1 {
		t.Fatalf("DL grants = %d, want 1", len(res.DLGrants))
	}

	// No feedback ever arrives. Each attempt times out at its feedback
	// slot plus the reception delay, is retransmitted, and after the
	// budget is spent the block is discarded.
	var retxSlots []uint32
	for n := uint32(102); n <= 141; n++ {
		res := s.SlotIndication(at(n), 0)
		for _, g := range res.DLGrants {
			if !g.IsReTx {
				t.Fatalf("unexpected new transmission at slot %d", n)
			}
			retxSlots = append(retxSlots, n)
		}
	}
	want := []uint32{109, 117, 125, 133}
	if diff := cmp.Diff(want, retxSlots); diff != "" {
		t.Fatalf("retransmission slots mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]discardRecord{{ue: 1, dir: harq.DirectionDL, pid: 0}}, discards.records, cmp.AllowUnexported(discardRecord{})); diff != "" {
		t.Fatalf("discards mismatch (-want +got):\n%s", diff)
	}
	if st := s.repo.get(1).carrier(0).harqs.DL(0).State(); st != harq.StateEmpty {
		t.Fatalf("process state = %v after discard, want empty", st)
	}
}

// An explicit NACK for the last allowed attempt arrives well before the
// discard slot. The process must not be offered for an extra
// retransmission in between.
func TestExplicitNackAfterFinalAttemptDiscards(t *testing.T) {
	discards := &discardLog{}
	s := New(WithDiscardObserver(discards))
	req := testCellConfig(0)
	req.MaxReTx = 1
	if rej := s.HandleCellConfigRequest(req); rej != nil {
		t.Fatalf("cell configuration rejected: %v", rej)
	}
	pushUE(t, s, 1, 0x4601, 0)
	s.SlotIndication(at(100), 0)

	s.HandleDLBufferStateIndication(model.DLBufferStateIndication{UEIndex: 1, LCID: 0, Bytes: 300})
	res := s.SlotIndication(at(101), 0)
	if len(res.DLGrants) != 1 {
		t.Fatalf("DL grants = %d, want 1", len(res.DLGrants))
	}
	pid := res.DLGrants[0].DCI.PID

	s.HandleDLHARQACKIndication(model.DLHARQACKIndication{UEIndex: 1, CellIndex: 0, PID: pid, ACK: false})
	res = s.SlotIndication(at(102), 0)
	if len(res.DLGrants) != 1 || !res.DLGrants[0].IsReTx {
		t.Fatalf("NACK did not yield a retransmission: %+v", res.DLGrants)
	}

	// Feedback for the retransmission at slot 102 is expected at 106 and
	// processed at 110. The NACK lands at 103 instead.
	s.HandleDLHARQACKIndication(model.DLHARQACKIndication{UEIndex: 1, CellIndex: 0, PID: pid, ACK: false})
	for n := uint32(103); n <= 112; n++ {
		res := s.SlotIndication(at(n), 0)
		if len(res.DLGrants) != 0 {
			t.Fatalf("slot %d: grant for an exhausted process: %+v", n, res.DLGrants)
		}
	}

	if diff := cmp.Diff([]discardRecord{{ue: 1, dir: harq.DirectionDL, pid: pid}}, discards.records, cmp.AllowUnexported(discardRecord{})); diff != "" {
		t.Fatalf("discards mismatch (-want +got):\n%s", diff)
	}
	if st := s.repo.get(1).carrier(0).harqs.DL(pid).State(); st != harq.StateEmpty {
		t.Fatalf("process state = %v after discard, want empty", st)
	}
}

func TestULCRCFailureRetransmits(t *testing.T) {
	s := New()
	mustConfigureCell(t, s, 0)
	pushUE(t, s, 1, 0x4601, 0)
	s.SlotIndication(at(100), 0)

	s.HandleULBSRIndication(model.ULBSRIndication{
		UEIndex: 1,
		Reports: []model.LCGReport{{LCG: 2, Bytes: 200}},
	})
	res := s.SlotIndication(at(101), 0)
	if len(res.ULGrants) != 1 {
		t.Fatalf("UL grants = %d, want 1", len(res.ULGrants))
	}
	g := res.ULGrants[0]
	if got := g.Grant.PRBs().Length(); got != 8 {
		t.Fatalf("grant length = %d PRBs for 200 bytes at MCS 9, want 8", got)
	}
	if got := s.repo.get(1).ulPending(); got != 0 {
		t.Fatalf("BSR not drained by the grant: %d bytes left", got)
	}

	s.HandleULCRCIndication(model.ULCRCIndication{UEIndex: 1, CellIndex: 0, PID: g.DCI.PID, OK: false})
	res = s.SlotIndication(at(102), 0)
	if len(res.ULGrants) != 1 || !res.ULGrants[0].IsReTx {
		t.Fatalf("decode failure did not yield a retransmission: %+v", res.ULGrants)
	}
	if res.ULGrants[0].DCI.RV != 2 {
		t.Fatalf("RV = %d on first retransmission, want 2", res.ULGrants[0].DCI.RV)
	}

	s.HandleULCRCIndication(model.ULCRCIndication{UEIndex: 1, CellIndex: 0, PID: g.DCI.PID, OK: true})
	res = s.SlotIndication(at(103), 0)
	if len(res.ULGrants) != 0 {
		t.Fatalf("UL grants = %d after successful decode, want 0", len(res.ULGrants))
	}
}

func TestTDDPatternGatesDirections(t *testing.T) {
	s := New()
	req := testCellConfig(0)
	req.TDD = &model.TDDConfig{PeriodSlots: 5, DLSlots: 3, ULSlots: 1}
	if rej := s.HandleCellConfigRequest(req); rej != nil {
		t.Fatalf("configuration rejected: %v", rej)
	}
	pushUE(t, s, 1, 0x4601, 0)
	s.SlotIndication(at(100), 0)

	// Saturating traffic in both directions so every permitted slot has
	// something to schedule.
	s.HandleDLBufferStateIndication(model.DLBufferStateIndication{UEIndex: 1, LCID: 0, Bytes: 1 << 20})
	s.HandleULBSRIndication(model.ULBSRIndication{
		UEIndex: 1,
		Reports: []model.LCGReport{{LCG: 0, Bytes: 1 << 20}},
	})
	for n := uint32(101); n <= 110; n++ {
		res := s.SlotIndication(at(n), 0)
		wantDL := n%5 < 4
		wantUL := n%5 >= 3
		if got := len(res.DLGrants) > 0; got != wantDL {
			t.Fatalf("slot %d: DL grants present = %v, want %v", n, got, wantDL)
		}
		if got := len(res.ULGrants) > 0; got != wantUL {
			t.Fatalf("slot %d: UL grants present = %v, want %v", n, got, wantUL)
		}
	}
}

func TestRACHIndicationCountsArrival(t *testing.T) {
	probe := newMetricsProbe()
	s := New(WithMetricsRecorder(probe))
	mustConfigureCell(t, s, 0)

	s.HandleRACHIndication(model.RACHIndication{CellIndex: 0, PreambleID: 17, TimingAdvance: 12, SlotRx: at(99)})
	s.SlotIndication(at(100), 0)
	if got := s.cells[0].rachCount; got != 1 {
		t.Fatalf("rach count = %d, want 1", got)
	}

	s.HandleRACHIndication(model.RACHIndication{CellIndex: 5, PreambleID: 3, SlotRx: at(99)})
	if probe.dropped["unknown_cell"] != 1 {
		t.Fatalf("indication for unconfigured cell not dropped")
	}
}

func TestSlotIndicationOrderingContract(t *testing.T) {
	s := New()
	mustConfigureCell(t, s, 0)
	s.SlotIndication(at(100), 0)

	expectPanic(t, "repeat slot", func() { s.SlotIndication(at(100), 0) })
	expectPanic(t, "slot regression", func() { s.SlotIndication(at(99), 0) })
	expectPanic(t, "unconfigured cell", func() { s.SlotIndication(at(101), 3) })
	expectPanic(t, "numerology mismatch", func() { s.SlotIndication(slot.New(slot.SCS15kHz, 101), 0) })
}
