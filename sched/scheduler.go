// Package sched implements a slot-level MAC scheduler for 5G NR cells:
// per-cell resource grids, per-UE HARQ entities, and pluggable allocation
// policies, driven by slot indications and fed through double-buffered
// event lists.
//
// Configuration and feedback handlers may be called from any goroutine.
// Slot indications must arrive in strictly increasing slot order per
// cell, and cells serving carrier-aggregated UEs must be driven from the
// same goroutine.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/ran-scheduler/internal/logging"
	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/sched/grid"
	"github.com/signalsfoundry/ran-scheduler/sched/harq"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

// ConfigNotifier receives completion callbacks for UE configuration
// procedures. UE creation and deletion are asynchronous: the request
// handlers enqueue work and return, and the notifier fires once the
// change has taken effect on the slot-processing path. Callbacks run on
// that path and must not block.
type ConfigNotifier interface {
	UEConfigComplete(ue model.UEIndex, ok bool)
	UEDeleteComplete(ue model.UEIndex)
}

type nopNotifier struct{}

func (nopNotifier) UEConfigComplete(model.UEIndex, bool) {}
func (nopNotifier) UEDeleteComplete(model.UEIndex)       {}

// MetricsRecorder receives scheduler health updates. Implementations must
// be safe for concurrent use and must not block; they are called from the
// slot-processing path.
type MetricsRecorder interface {
	SlotProcessed(cell model.CellIndex, elapsed time.Duration)
	GrantsScheduled(cell model.CellIndex, dl, ul int)
	HARQDiscard(cell model.CellIndex, dir harq.Direction)
	EventDropped(reason string)
	EventRequeued()
	SetActiveUEs(n int)
	SetPendingReTx(cell model.CellIndex, dl, ul int)
	RACHReceived(cell model.CellIndex)
}

type nopMetrics struct{}

func (nopMetrics) SlotProcessed(model.CellIndex, time.Duration) {}
func (nopMetrics) GrantsScheduled(model.CellIndex, int, int)    {}
func (nopMetrics) HARQDiscard(model.CellIndex, harq.Direction)  {}
func (nopMetrics) EventDropped(string)                          {}
func (nopMetrics) EventRequeued()                               {}
func (nopMetrics) SetActiveUEs(int)                             {}
func (nopMetrics) SetPendingReTx(model.CellIndex, int, int)     {}
func (nopMetrics) RACHReceived(model.CellIndex)                 {}

// Scheduler is the MAC slot scheduler. It owns the configured cells, the
// served-UE repository, and the event manager that moves external stimuli
// onto the slot-processing path.
type Scheduler struct {
	cfg      Config
	log      logging.Logger
	repo     *ueRepository
	events   *eventManager
	view     *grid.View
	metrics  MetricsRecorder
	notifier ConfigNotifier
	observer harq.DiscardObserver

	mu       sync.RWMutex
	cells    [model.MaxCells]*cellContext
	numCells int
}

// New builds a scheduler with no cells configured.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:      Config{TxRxDelay: defaultTxRxDelay, K1: defaultK1},
		log:      logging.Noop(),
		repo:     newUERepository(),
		view:     &grid.View{},
		metrics:  nopMetrics{},
		notifier: nopNotifier{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.events = newEventManager(s)
	return s
}

// Config returns the scheduler-wide timing parameters.
func (s *Scheduler) Config() Config { return s.cfg }

// NumCells returns the number of configured cells.
func (s *Scheduler) NumCells() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numCells
}

// NumUEs returns the number of served UEs.
func (s *Scheduler) NumUEs() int { return s.repo.numUEs() }

// View returns the cross-cell state view shared with policies.
func (s *Scheduler) View() *grid.View { return s.view }

// cell returns the context of a configured cell, or nil.
func (s *Scheduler) cell(idx model.CellIndex) *cellContext {
	if !idx.Valid() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cells[idx]
}

// HandleCellConfigRequest validates and applies a cell configuration. The
// call is synchronous: on success the cell accepts slot indications as
// soon as it returns. Reconfiguring a live cell is rejected as an
// incompatible state transition.
func (s *Scheduler) HandleCellConfigRequest(req model.CellConfigRequest) *model.ConfigRejection {
	cfg, rej := validateCellConfig(req)
	if rej == nil {
		rej = s.installCell(cfg)
	}
	if rej != nil {
		s.log.Warn(context.Background(), "rejecting cell configuration",
			logging.Int("cell", int(req.CellIndex)),
			logging.String("cause", rej.Cause.String()),
			logging.String("reason", rej.Message))
		return rej
	}
	return nil
}

func (s *Scheduler) installCell(cfg cellConfig) *model.ConfigRejection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cells[cfg.index] != nil {
		return &model.ConfigRejection{
			Cause:   model.CauseIncompatibleState,
			Message: fmt.Sprintf("cell %d is already configured", cfg.index),
		}
	}
	cc, err := newCellContext(s, cfg)
	if err != nil {
		return &model.ConfigRejection{
			Cause:   model.CauseSemanticError,
			Message: err.Error(),
		}
	}
	s.cells[cfg.index] = cc
	s.numCells++
	s.view.AddCell(cc)
	s.log.Info(context.Background(), "cell configured",
		logging.Int("cell", int(cfg.index)),
		logging.Uint32("prbs", cfg.numPRBs),
		logging.Int("harq_processes", int(cfg.numHARQ)),
		logging.Uint32("max_retx", cfg.maxReTx),
		logging.String("policy", cc.pol.Name()))
	return nil
}

// HandleUECreationRequest enqueues creation of a served UE. Static
// constraints are checked immediately; constraints against live state are
// checked on the slot path, and the outcome is reported through the
// ConfigNotifier.
func (s *Scheduler) HandleUECreationRequest(req model.UECreationRequest) error {
	if !req.UEIndex.Valid() {
		return fmt.Errorf("ue index %d out of range [0, %d)", req.UEIndex, model.MaxUEs)
	}
	if req.RNTI == 0 {
		return fmt.Errorf("rnti must be non-zero")
	}
	if !req.PCell.Valid() {
		return fmt.Errorf("primary cell index %d out of range [0, %d)", req.PCell, model.MaxCells)
	}
	seen := map[model.CellIndex]bool{req.PCell: true}
	for _, sc := range req.SCells {
		if !sc.Valid() {
			return fmt.Errorf("secondary cell index %d out of range [0, %d)", sc, model.MaxCells)
		}
		if seen[sc] {
			return fmt.Errorf("cell %d listed twice", sc)
		}
		seen[sc] = true
	}
	scells := append([]model.CellIndex(nil), req.SCells...)
	s.events.pushCommon(event{
		ue:   model.InvalidUEIndex,
		name: "ue_create",
		fn:   func(*ue) { s.createUE(req.UEIndex, req.RNTI, req.PCell, scells) },
	})
	return nil
}

func (s *Scheduler) createUE(idx model.UEIndex, rnti model.RNTI, pcell model.CellIndex, scells []model.CellIndex) {
	u := &ue{index: idx, rnti: rnti, pcell: pcell}
	for _, ci := range append([]model.CellIndex{pcell}, scells...) {
		cc := s.cell(ci)
		if cc == nil {
			s.ueConfigFailed(idx, fmt.Errorf("%w: index %d", ErrCellNotFound, ci))
			return
		}
		ent := harq.NewEntity(idx, rnti, cc.cfg.numHARQ,
			harq.WithLogger(cc.log),
			harq.WithDiscardObserver(cellDiscards{sched: s, cell: ci}))
		u.carriers = append(u.carriers, &ueCarrier{cell: ci, harqs: ent})
	}
	if err := s.repo.add(u); err != nil {
		s.ueConfigFailed(idx, err)
		return
	}
	s.metrics.SetActiveUEs(s.repo.numUEs())
	s.log.Info(context.Background(), "UE created",
		logging.Int("ue_index", int(idx)),
		logging.String("rnti", rnti.String()),
		logging.Int("carriers", len(u.carriers)))
	s.notifier.UEConfigComplete(idx, true)
}

func (s *Scheduler) ueConfigFailed(idx model.UEIndex, err error) {
	s.log.Warn(context.Background(), "UE creation failed",
		logging.Int("ue_index", int(idx)),
		logging.String("reason", err.Error()))
	s.notifier.UEConfigComplete(idx, false)
}

// HandleUEDeletionRequest enqueues removal of a served UE. For a UE with
// carrier aggregation the removal waits until all serving cells have
// reached the same slot, so no carrier schedules a half-removed UE.
func (s *Scheduler) HandleUEDeletionRequest(req model.UEDeletionRequest) error {
	if !req.UEIndex.Valid() {
		return fmt.Errorf("ue index %d out of range [0, %d)", req.UEIndex, model.MaxUEs)
	}
	s.events.pushCommon(event{
		ue:   req.UEIndex,
		name: "ue_delete",
		fn:   func(u *ue) { s.deleteUE(u) },
	})
	return nil
}

func (s *Scheduler) deleteUE(u *ue) {
	if _, err := s.repo.remove(u.index); err != nil {
		s.log.Error(context.Background(), "UE removal failed",
			logging.Int("ue_index", int(u.index)),
			logging.String("reason", err.Error()))
		return
	}
	s.metrics.SetActiveUEs(s.repo.numUEs())
	s.log.Info(context.Background(), "UE deleted",
		logging.Int("ue_index", int(u.index)),
		logging.String("rnti", u.rnti.String()))
	s.notifier.UEDeleteComplete(u.index)
}

// HandleSRIndication records a scheduling request. The UE is considered
// for a minimal uplink grant until one is allocated.
func (s *Scheduler) HandleSRIndication(ind model.SRIndication) {
	if !ind.UEIndex.Valid() {
		s.dropIndication("sr", "invalid_ue_index", logging.Int("ue_index", int(ind.UEIndex)))
		return
	}
	s.events.pushCommon(event{
		ue:   ind.UEIndex,
		name: "sr",
		fn:   func(u *ue) { u.sr = true },
	})
}

// HandleULBSRIndication records a buffer status report. Reported values
// replace the previous state of each listed logical channel group.
func (s *Scheduler) HandleULBSRIndication(ind model.ULBSRIndication) {
	if !ind.UEIndex.Valid() {
		s.dropIndication("ul_bsr", "invalid_ue_index", logging.Int("ue_index", int(ind.UEIndex)))
		return
	}
	for _, rep := range ind.Reports {
		if rep.LCG >= model.MaxLCGs {
			s.dropIndication("ul_bsr", "invalid_lcg",
				logging.Int("ue_index", int(ind.UEIndex)),
				logging.Int("lcg", int(rep.LCG)))
			return
		}
	}
	reports := append([]model.LCGReport(nil), ind.Reports...)
	s.events.pushCommon(event{
		ue:   ind.UEIndex,
		name: "ul_bsr",
		fn: func(u *ue) {
			for _, rep := range reports {
				u.ulBSR[rep.LCG] = rep.Bytes
			}
		},
	})
}

// HandleDLBufferStateIndication records the downlink queue size of one
// logical channel. The value is absolute, not a delta.
func (s *Scheduler) HandleDLBufferStateIndication(ind model.DLBufferStateIndication) {
	if !ind.UEIndex.Valid() {
		s.dropIndication("dl_buffer_state", "invalid_ue_index", logging.Int("ue_index", int(ind.UEIndex)))
		return
	}
	if ind.LCID >= model.MaxLCIDs {
		s.dropIndication("dl_buffer_state", "invalid_lcid",
			logging.Int("ue_index", int(ind.UEIndex)),
			logging.Int("lcid", int(ind.LCID)))
		return
	}
	s.events.pushCommon(event{
		ue:   ind.UEIndex,
		name: "dl_buffer_state",
		fn:   func(u *ue) { u.dlBuffer[ind.LCID] = ind.Bytes },
	})
}

// HandleRACHIndication records a random access preamble on its cell.
func (s *Scheduler) HandleRACHIndication(ind model.RACHIndication) {
	cc := s.cell(ind.CellIndex)
	if cc == nil {
		s.dropIndication("rach", "unknown_cell", logging.Int("cell", int(ind.CellIndex)))
		return
	}
	cc.events.push(event{
		ue:   model.InvalidUEIndex,
		name: "rach",
		fn:   func(*ue) { cc.handleRACH(ind) },
	})
}

// HandleDLHARQACKIndication applies downlink HARQ feedback on the cell
// that carried the transmission.
func (s *Scheduler) HandleDLHARQACKIndication(ind model.DLHARQACKIndication) {
	cc := s.cell(ind.CellIndex)
	if cc == nil {
		s.dropIndication("dl_harq_ack", "unknown_cell", logging.Int("cell", int(ind.CellIndex)))
		return
	}
	if !ind.UEIndex.Valid() {
		s.dropIndication("dl_harq_ack", "invalid_ue_index", logging.Int("ue_index", int(ind.UEIndex)))
		return
	}
	cc.events.push(event{
		ue:   ind.UEIndex,
		name: "dl_harq_ack",
		fn:   func(u *ue) { cc.applyDLACK(u, ind) },
	})
}

// HandleULCRCIndication applies an uplink decode result on the cell that
// carried the transmission.
func (s *Scheduler) HandleULCRCIndication(ind model.ULCRCIndication) {
	cc := s.cell(ind.CellIndex)
	if cc == nil {
		s.dropIndication("ul_crc", "unknown_cell", logging.Int("cell", int(ind.CellIndex)))
		return
	}
	if !ind.UEIndex.Valid() {
		s.dropIndication("ul_crc", "invalid_ue_index", logging.Int("ue_index", int(ind.UEIndex)))
		return
	}
	cc.events.push(event{
		ue:   ind.UEIndex,
		name: "ul_crc",
		fn:   func(u *ue) { cc.applyULCRC(u, ind) },
	})
}

// SlotIndication runs one scheduling slot for one cell and returns the
// grants of that slot. The result's storage is reused; callers must copy
// anything kept past the next indication for the same cell.
//
// Indications must arrive in strictly increasing slot order per cell.
// Regressions, repeats, numerology mismatches, and indications for
// unconfigured cells are driver bugs and panic.
func (s *Scheduler) SlotIndication(sl slot.Point, cell model.CellIndex) *model.SchedResult {
	cc := s.cell(cell)
	if cc == nil {
		panic(fmt.Sprintf("sched: slot indication for unconfigured cell %d", cell))
	}
	cc.startSlot(sl)
	return cc.runSlot(sl)
}

func (s *Scheduler) dropIndication(kind, reason string, fields ...logging.Field) {
	fields = append(fields, logging.String("event", kind), logging.String("reason", reason))
	s.log.Warn(context.Background(), "dropping indication", fields...)
	s.metrics.EventDropped(reason)
}

// cellDiscards forwards HARQ discard reports with cell attribution to the
// metrics recorder and the optional user observer.
type cellDiscards struct {
	sched *Scheduler
	cell  model.CellIndex
}

func (d cellDiscards) HARQDiscarded(ue model.UEIndex, rnti model.RNTI, dir harq.Direction, pid uint8) {
	d.sched.metrics.HARQDiscard(d.cell, dir)
	if d.sched.observer != nil {
		d.sched.observer.HARQDiscarded(ue, rnti, dir, pid)
	}
}
