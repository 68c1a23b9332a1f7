package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/ran-scheduler/internal/logging"
	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/sched/grid"
	"github.com/signalsfoundry/ran-scheduler/sched/policy"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

// cellContext owns the scheduling state of one configured cell: its
// resource grid, its policy instance, its event list, and the reused slot
// result storage. All fields are owned by the cell's driving execution
// context except the event list, which producers append to concurrently.
type cellContext struct {
	sched *Scheduler
	cfg   cellConfig
	grid  *grid.CellGrid
	pol   policy.Policy
	log   logging.Logger

	events eventList

	// lastSlot is the most recent slot indicated for this cell; it is the
	// active slot while runSlot executes. Written only by the driving
	// execution context. Common-event draining reads it for carrier
	// aggregation checks, which is ordered because aggregated cells share
	// one execution context.
	lastSlot slot.Point

	// result and the grant buffers are reused across slots; callers must
	// copy anything they keep past the next slot indication.
	result     model.SchedResult
	dlGrantBuf [model.MaxGrantsPerSlot]model.DLGrant
	ulGrantBuf [model.MaxGrantsPerSlot]model.ULGrant

	candUEs    []*ue
	candidates []policy.UECandidate
	pendingDL  []policy.PendingDLReTx
	pendingUL  []policy.PendingULReTx

	rachCount uint64
}

var _ grid.CellState = (*cellContext)(nil)

func newCellContext(s *Scheduler, cfg cellConfig) (*cellContext, error) {
	g, err := grid.NewCellGrid(cfg.index, cfg.numPRBs)
	if err != nil {
		return nil, err
	}
	log := s.log.With(logging.Int("cell", int(cfg.index)))
	pol, err := policy.New(cfg.policyKind, log)
	if err != nil {
		return nil, err
	}
	return &cellContext{
		sched: s,
		cfg:   cfg,
		grid:  g,
		pol:   pol,
		log:   log,
	}, nil
}

// startSlot validates a slot indication against the cell's numerology and
// ordering contract and records it as the active slot. Violations are
// driver bugs and panic.
func (c *cellContext) startSlot(sl slot.Point) {
	if sl.Numerology() != c.cfg.scs {
		panic(fmt.Sprintf("sched: cell %d indicated with numerology %d, configured for %d",
			c.cfg.index, sl.Numerology(), c.cfg.scs))
	}
	if c.lastSlot.Valid() && !sl.After(c.lastSlot) {
		panic(fmt.Sprintf("sched: cell %d slot indications must be strictly increasing: %s after %s",
			c.cfg.index, sl, c.lastSlot))
	}
	c.lastSlot = sl
}

// runSlot produces the scheduling result for one slot: drain events,
// advance HARQ entities to the concluding reception slot, collect pending
// retransmissions, then run the policy for each link direction permitted
// by the TDD pattern.
func (c *cellContext) runSlot(sl slot.Point) *model.SchedResult {
	started := time.Now()
	c.grid.StartSlot(sl)
	c.result = model.SchedResult{
		Slot:      sl,
		CellIndex: c.cfg.index,
		DLGrants:  c.dlGrantBuf[:0],
		ULGrants:  c.ulGrantBuf[:0],
	}

	c.sched.events.processCommonIfNewSlot(sl)
	c.sched.events.drainCell(c)

	c.candUEs = c.sched.repo.appendCellUEs(c.cfg.index, c.candUEs[:0])

	rx := sl.Add(-int(c.sched.cfg.TxRxDelay))
	for _, u := range c.candUEs {
		u.carrier(c.cfg.index).harqs.NewSlot(rx)
	}

	c.collectCandidates()

	slice := policy.SliceCandidate{
		Cell:       c.cfg.index,
		Slot:       sl,
		DefaultMCS: c.cfg.defaultMCS,
		MaxUEPRBs:  c.cfg.maxPRBsPerUE,
		UEs:        c.candidates,
	}
	if model.SlotIsDL(c.cfg.tdd, sl.Count()) {
		c.pol.SchedDL(dlAlloc{c}, c.sched.view, slice, c.pendingDL)
	}
	if model.SlotIsUL(c.cfg.tdd, sl.Count()) {
		c.pol.SchedUL(ulAlloc{c}, c.sched.view, slice, c.pendingUL)
	}

	elapsed := time.Since(started)
	c.sched.metrics.SlotProcessed(c.cfg.index, elapsed)
	c.sched.metrics.GrantsScheduled(c.cfg.index, len(c.result.DLGrants), len(c.result.ULGrants))
	c.log.Debug(context.Background(), "slot processed",
		logging.String("slot", sl.String()),
		logging.Int("dl_grants", len(c.result.DLGrants)),
		logging.Int("ul_grants", len(c.result.ULGrants)),
		logging.Duration("elapsed", elapsed))
	return &c.result
}

// collectCandidates rebuilds the per-slot candidate and pending
// retransmission lists from the UEs served by this cell. A pending
// process whose retransmission budget is spent is not offered to the
// policy; NewSlot clears it once its feedback slot elapses.
func (c *cellContext) collectCandidates() {
	c.candidates = c.candidates[:0]
	c.pendingDL = c.pendingDL[:0]
	c.pendingUL = c.pendingUL[:0]
	for _, u := range c.candUEs {
		car := u.carrier(c.cfg.index)
		cand := ueCandidate{ue: u, carrier: car}
		c.candidates = append(c.candidates, cand)
		for pid := uint8(0); pid < car.harqs.NumProcesses(); pid++ {
			if p := car.harqs.DL(pid); p.HasPendingReTx() && p.NumReTx() < p.MaxReTx() {
				c.pendingDL = append(c.pendingDL, policy.PendingDLReTx{UE: cand, Proc: p})
			}
			if p := car.harqs.UL(pid); p.HasPendingReTx() && p.NumReTx() < p.MaxReTx() {
				c.pendingUL = append(c.pendingUL, policy.PendingULReTx{UE: cand, Proc: p})
			}
		}
	}
	c.sched.metrics.SetPendingReTx(c.cfg.index, len(c.pendingDL), len(c.pendingUL))
}

// handleRACH counts and logs a random access preamble. Connection setup
// happens above this layer; the scheduler only tracks arrival.
func (c *cellContext) handleRACH(ind model.RACHIndication) {
	c.rachCount++
	c.log.Info(context.Background(), "RACH preamble received",
		logging.Uint32("preamble", ind.PreambleID),
		logging.Uint32("timing_advance", ind.TimingAdvance),
		logging.String("slot_rx", ind.SlotRx.String()))
	c.sched.metrics.RACHReceived(c.cfg.index)
}

// applyDLACK applies downlink HARQ feedback to the UE's process on this
// cell. Feedback that no longer matches a live transmission is dropped
// with a log line rather than treated as an error.
func (c *cellContext) applyDLACK(u *ue, ind model.DLHARQACKIndication) {
	car := u.carrier(c.cfg.index)
	if car == nil {
		c.dropFeedback(u, "no carrier on cell", int(ind.PID))
		return
	}
	proc := car.harqs.DL(ind.PID)
	if proc == nil {
		c.dropFeedback(u, "HARQ process id out of range", int(ind.PID))
		return
	}
	if _, err := proc.AckInfo(0, ind.ACK); err != nil {
		c.log.Debug(context.Background(), "ignoring stale DL HARQ feedback",
			logging.String("rnti", u.rnti.String()),
			logging.Int("pid", int(ind.PID)),
			logging.Bool("ack", ind.ACK))
		c.sched.metrics.EventDropped("stale_feedback")
	}
}

// applyULCRC applies an uplink decode result to the UE's process on this
// cell.
func (c *cellContext) applyULCRC(u *ue, ind model.ULCRCIndication) {
	car := u.carrier(c.cfg.index)
	if car == nil {
		c.dropFeedback(u, "no carrier on cell", int(ind.PID))
		return
	}
	proc := car.harqs.UL(ind.PID)
	if proc == nil {
		c.dropFeedback(u, "HARQ process id out of range", int(ind.PID))
		return
	}
	if _, err := proc.AckInfo(0, ind.OK); err != nil {
		c.log.Debug(context.Background(), "ignoring stale UL CRC result",
			logging.String("rnti", u.rnti.String()),
			logging.Int("pid", int(ind.PID)),
			logging.Bool("ok", ind.OK))
		c.sched.metrics.EventDropped("stale_feedback")
	}
}

func (c *cellContext) dropFeedback(u *ue, reason string, pid int) {
	c.log.Warn(context.Background(), "dropping HARQ feedback",
		logging.String("rnti", u.rnti.String()),
		logging.Int("pid", pid),
		logging.String("reason", reason))
	c.sched.metrics.EventDropped("invalid_feedback")
}

// CellIndex, Slot, DLFreePRBs, ULFreePRBs, HasDLGrant and HasULGrant
// implement grid.CellState so sibling cells can inspect this cell through
// the shared view.
func (c *cellContext) CellIndex() model.CellIndex { return c.cfg.index }
func (c *cellContext) Slot() slot.Point           { return c.lastSlot }
func (c *cellContext) DLFreePRBs() uint32         { return c.grid.DLFree() }
func (c *cellContext) ULFreePRBs() uint32         { return c.grid.ULFree() }

func (c *cellContext) HasDLGrant(rnti model.RNTI) bool {
	for i := range c.result.DLGrants {
		if c.result.DLGrants[i].RNTI == rnti {
			return true
		}
	}
	return false
}

func (c *cellContext) HasULGrant(rnti model.RNTI) bool {
	for i := range c.result.ULGrants {
		if c.result.ULGrants[i].RNTI == rnti {
			return true
		}
	}
	return false
}
