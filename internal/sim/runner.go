// Package sim replays scenario files against the scheduler. A runner
// configures the cells and UEs a scenario declares, compiles its traffic
// script onto a slot program, drives the slot clock, and loops every
// grant's feedback back into the scheduler through a lossy radio model.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/ran-scheduler/internal/logging"
	"github.com/signalsfoundry/ran-scheduler/internal/scenario"
	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/sched"
	"github.com/signalsfoundry/ran-scheduler/sched/harq"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

// Stats accumulates counters over one run. Grant counts include
// retransmissions; byte counts cover new transmissions only, since a
// retransmission carries bytes already counted.
type Stats struct {
	Slots      uint64 `json:"slots"`
	UEsCreated int    `json:"ues_created"`
	UEsFailed  int    `json:"ues_failed"`
	UEsDeleted int    `json:"ues_deleted"`
	DLGrants   uint64 `json:"dl_grants"`
	ULGrants   uint64 `json:"ul_grants"`
	DLReTx     uint64 `json:"dl_retx"`
	ULReTx     uint64 `json:"ul_retx"`
	DLBytes    uint64 `json:"dl_bytes"`
	ULBytes    uint64 `json:"ul_bytes"`
	DLDiscards uint64 `json:"dl_discards"`
	ULDiscards uint64 `json:"ul_discards"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger; the scheduler inherits it.
func WithLogger(log logging.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics routes the scheduler's counters to the given recorder.
func WithMetrics(m sched.MetricsRecorder) Option {
	return func(r *Runner) { r.metrics = m }
}

// Runner binds one scenario to one scheduler instance. It owns the run's
// random source, so runs with the same scenario and seed are identical.
type Runner struct {
	log     logging.Logger
	sc      *scenario.Scenario
	sched   *sched.Scheduler
	program *scenario.Program
	link    *feedbackLink
	rng     *rand.Rand
	tracer  trace.Tracer
	metrics sched.MetricsRecorder
	scs     slot.Numerology
	cells   []model.CellIndex

	mu    sync.Mutex
	stats Stats
}

// New builds a runner for a parsed scenario: cells are configured
// synchronously, UE creation requests are queued, and the traffic script
// is compiled onto the slot program.
func New(sc *scenario.Scenario, opts ...Option) (*Runner, error) {
	r := &Runner{
		log:     logging.Noop(),
		sc:      sc,
		program: scenario.NewProgram(),
		rng:     rand.New(rand.NewSource(sc.Traffic.Seed)),
		tracer:  otel.Tracer("schedsim"),
		scs:     sc.Numerology(),
	}
	for _, opt := range opts {
		opt(r)
	}

	schedOpts := []sched.Option{
		sched.WithLogger(r.log),
		sched.WithConfigNotifier(r),
		sched.WithDiscardObserver(r),
	}
	if r.metrics != nil {
		schedOpts = append(schedOpts, sched.WithMetricsRecorder(r.metrics))
	}
	r.sched = sched.New(schedOpts...)

	for _, c := range sc.Cells {
		if rej := r.sched.HandleCellConfigRequest(c.ConfigRequest()); rej != nil {
			return nil, fmt.Errorf("configuring cell %d: %w", c.Index, rej)
		}
		r.cells = append(r.cells, model.CellIndex(c.Index))
	}
	for _, u := range sc.UEs {
		if err := r.sched.HandleUECreationRequest(u.CreationRequest()); err != nil {
			return nil, fmt.Errorf("creating UE %d: %w", u.Index, err)
		}
	}
	r.scheduleTraffic()
	r.link = newFeedbackLink(r.sched, r.program, r.rng, sc.Traffic)
	return r, nil
}

// scheduleTraffic compiles the scripted events onto the slot program.
// Indication values are built here so the closures capture nothing that
// changes between scheduling and firing.
func (r *Runner) scheduleTraffic() {
	for _, ev := range r.sc.Traffic.Events {
		at := slot.New(r.scs, ev.AtSlot)
		switch ev.Kind {
		case scenario.KindDLBuffer:
			ind := model.DLBufferStateIndication{UEIndex: model.UEIndex(ev.UE), LCID: ev.LCID, Bytes: ev.Bytes}
			r.program.Schedule(at, func() { r.sched.HandleDLBufferStateIndication(ind) })
		case scenario.KindBSR:
			ind := model.ULBSRIndication{
				UEIndex: model.UEIndex(ev.UE),
				Reports: []model.LCGReport{{LCG: ev.LCG, Bytes: ev.Bytes}},
			}
			r.program.Schedule(at, func() { r.sched.HandleULBSRIndication(ind) })
		case scenario.KindSR:
			ind := model.SRIndication{UEIndex: model.UEIndex(ev.UE), LCID: ev.LCID}
			r.program.Schedule(at, func() { r.sched.HandleSRIndication(ind) })
		case scenario.KindRACH:
			ind := model.RACHIndication{
				CellIndex:  model.CellIndex(ev.Cell),
				PreambleID: r.rng.Uint32() % 64,
				SlotRx:     at,
			}
			r.program.Schedule(at, func() { r.sched.HandleRACHIndication(ind) })
		}
	}
}

// Run drives the clock from slot zero for numSlots slots and returns the
// accumulated statistics. Cancelling the context stops the run early and
// is reported through the returned error.
func (r *Runner) Run(ctx context.Context, numSlots uint32, mode slot.Mode) (Stats, error) {
	ctx, span := r.tracer.Start(ctx, "sim.run",
		trace.WithAttributes(attribute.String("scenario", r.sc.Name)))
	defer span.End()

	clock := slot.NewClock(slot.New(r.scs, 0), mode)
	clock.AddListener(func(sl slot.Point) { r.step(ctx, sl) })

	r.log.Info(ctx, "run starting",
		logging.String("scenario", r.sc.Name),
		logging.Int("cells", len(r.cells)),
		logging.Int("ues", len(r.sc.UEs)),
		logging.Uint32("slots", numSlots))
	<-clock.Start(ctx, numSlots)

	stats := r.Stats()
	r.log.Info(ctx, "run complete",
		logging.Uint64("slots", stats.Slots),
		logging.Uint64("dl_grants", stats.DLGrants),
		logging.Uint64("ul_grants", stats.ULGrants),
		logging.Uint64("dl_discards", stats.DLDiscards),
		logging.Uint64("ul_discards", stats.ULDiscards))
	return stats, ctx.Err()
}

// step is the per-slot body: due script events fire first, then the
// randomized load, then every cell produces its slot decisions, which are
// handed to the feedback link.
func (r *Runner) step(ctx context.Context, sl slot.Point) {
	_, span := r.tracer.Start(ctx, "sim.slot",
		trace.WithAttributes(attribute.Int64("slot", int64(sl.Count()))))
	defer span.End()

	r.program.RunDue(sl)
	r.offerLoad()
	for _, cell := range r.cells {
		res := r.sched.SlotIndication(sl, cell)
		r.record(res)
		r.link.observe(res)
	}

	r.mu.Lock()
	r.stats.Slots++
	r.mu.Unlock()
}

// offerLoad rolls the load profiles once and reports the drawn bytes as
// the UE's current buffer state.
func (r *Runner) offerLoad() {
	for _, lp := range r.sc.Traffic.Load {
		if r.rng.Float64() < lp.DLProbability {
			r.sched.HandleDLBufferStateIndication(model.DLBufferStateIndication{
				UEIndex: model.UEIndex(lp.UE),
				LCID:    lp.LCID,
				Bytes:   r.drawBytes(lp),
			})
		}
		if r.rng.Float64() < lp.ULProbability {
			r.sched.HandleULBSRIndication(model.ULBSRIndication{
				UEIndex: model.UEIndex(lp.UE),
				Reports: []model.LCGReport{{LCG: lp.LCG, Bytes: r.drawBytes(lp)}},
			})
		}
	}
}

func (r *Runner) drawBytes(lp scenario.LoadProfile) uint32 {
	if lp.MaxBytes == lp.MinBytes {
		return lp.MaxBytes
	}
	return lp.MinBytes + uint32(r.rng.Int63n(int64(lp.MaxBytes-lp.MinBytes)+1))
}

func (r *Runner) record(res *model.SchedResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range res.DLGrants {
		g := &res.DLGrants[i]
		r.stats.DLGrants++
		if g.IsReTx {
			r.stats.DLReTx++
		} else {
			r.stats.DLBytes += uint64(g.TBSBytes)
		}
	}
	for i := range res.ULGrants {
		g := &res.ULGrants[i]
		r.stats.ULGrants++
		if g.IsReTx {
			r.stats.ULReTx++
		} else {
			r.stats.ULBytes += uint64(g.TBSBytes)
		}
	}
}

// Stats returns a snapshot of the run counters. Safe to call while the
// run is in progress.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// UEConfigComplete implements sched.ConfigNotifier.
func (r *Runner) UEConfigComplete(ue model.UEIndex, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.stats.UEsCreated++
		return
	}
	r.stats.UEsFailed++
}

// UEDeleteComplete implements sched.ConfigNotifier.
func (r *Runner) UEDeleteComplete(ue model.UEIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.UEsDeleted++
}

// HARQDiscarded implements harq.DiscardObserver.
func (r *Runner) HARQDiscarded(ue model.UEIndex, rnti model.RNTI, dir harq.Direction, pid uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dir == harq.DirectionDL {
		r.stats.DLDiscards++
		return
	}
	r.stats.ULDiscards++
}
