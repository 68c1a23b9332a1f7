package sched

import (
	"fmt"

	"github.com/signalsfoundry/ran-scheduler/internal/logging"
	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/sched/harq"
	"github.com/signalsfoundry/ran-scheduler/sched/policy"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

const (
	// defaultTxRxDelay is the distance, in slots, between the slot being
	// scheduled and the over-the-air slot whose feedback is now arriving.
	defaultTxRxDelay = 4

	// defaultK1 is the default distance from a downlink transmission slot
	// to its HARQ-ACK feedback slot.
	defaultK1 = 4
)

// Config holds scheduler-wide timing parameters shared by all cells.
type Config struct {
	// TxRxDelay is the slot distance between the slot currently being
	// scheduled and the slot whose transmissions are concluding over the
	// air. HARQ entities are advanced to the concluding slot, so feedback
	// that has not arrived by then is treated as a NACK.
	TxRxDelay uint32

	// K1 is the delay in slots from a downlink transmission to the slot
	// carrying its HARQ-ACK.
	K1 uint32
}

// Option customises Scheduler construction.
type Option func(*Scheduler)

// WithLogger directs scheduler logging to log instead of discarding it.
func WithLogger(log logging.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithConfigNotifier registers n to receive completion callbacks for UE
// configuration procedures.
func WithConfigNotifier(n ConfigNotifier) Option {
	return func(s *Scheduler) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithDiscardObserver registers obs to be told whenever a HARQ process
// exhausts its retransmission budget and drops its transport block.
func WithDiscardObserver(obs harq.DiscardObserver) Option {
	return func(s *Scheduler) {
		if obs != nil {
			s.observer = obs
		}
	}
}

// WithMetricsRecorder registers m to receive scheduler metrics updates.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTxRxDelay overrides the default transmit-to-feedback slot distance.
func WithTxRxDelay(slots uint32) Option {
	return func(s *Scheduler) {
		if slots > 0 {
			s.cfg.TxRxDelay = slots
		}
	}
}

// WithK1 overrides the default downlink HARQ-ACK delay.
func WithK1(slots uint32) Option {
	return func(s *Scheduler) {
		if slots > 0 {
			s.cfg.K1 = slots
		}
	}
}

// cellConfig is the validated, immutable copy of a cell configuration
// request kept by the owning cellContext.
type cellConfig struct {
	index        model.CellIndex
	scs          slot.Numerology
	numPRBs      uint32
	numHARQ      uint8
	maxReTx      uint32
	defaultMCS   uint32
	maxPRBsPerUE uint32
	tdd          *model.TDDConfig
	policyKind   string
}

// validateCellConfig checks a cell configuration request against the
// supported parameter ranges and returns the validated copy, or a
// rejection describing the first violated constraint.
func validateCellConfig(req model.CellConfigRequest) (cellConfig, *model.ConfigRejection) {
	reject := func(format string, args ...any) (cellConfig, *model.ConfigRejection) {
		return cellConfig{}, &model.ConfigRejection{
			Cause:   model.CauseSemanticError,
			Message: fmt.Sprintf(format, args...),
		}
	}
	if !req.CellIndex.Valid() {
		return reject("cell index %d out of range [0, %d)", req.CellIndex, model.MaxCells)
	}
	if !req.SCS.Valid() {
		return reject("unsupported subcarrier spacing")
	}
	if req.NumPRBs == 0 || req.NumPRBs > model.MaxPRBs {
		return reject("carrier bandwidth %d PRBs out of range [1, %d]", req.NumPRBs, model.MaxPRBs)
	}
	if req.MaxPRBsPerUE > req.NumPRBs {
		return reject("per-UE PRB cap %d exceeds carrier bandwidth %d", req.MaxPRBsPerUE, req.NumPRBs)
	}
	if req.NumHARQProcesses == 0 || req.NumHARQProcesses > model.MaxHARQProcesses {
		return reject("HARQ process count %d out of range [1, %d]", req.NumHARQProcesses, model.MaxHARQProcesses)
	}
	if req.DefaultMCS > model.MaxMCS {
		return reject("default MCS %d above maximum %d", req.DefaultMCS, model.MaxMCS)
	}
	if req.TDD != nil {
		if err := req.TDD.Validate(); err != nil {
			return reject("invalid TDD pattern: %v", err)
		}
	}
	if req.Policy != "" && req.Policy != policy.KindRoundRobin && req.Policy != policy.KindPropFair {
		return reject("unknown scheduling policy %q", req.Policy)
	}
	var tdd *model.TDDConfig
	if req.TDD != nil {
		cp := *req.TDD
		tdd = &cp
	}
	maxPerUE := req.MaxPRBsPerUE
	if maxPerUE == 0 {
		maxPerUE = req.NumPRBs
	}
	return cellConfig{
		index:        req.CellIndex,
		scs:          req.SCS,
		numPRBs:      req.NumPRBs,
		numHARQ:      req.NumHARQProcesses,
		maxReTx:      req.MaxReTx,
		defaultMCS:   req.DefaultMCS,
		maxPRBsPerUE: maxPerUE,
		tdd:          tdd,
		policyKind:   req.Policy,
	}, nil
}
