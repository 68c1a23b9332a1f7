package harq

import (
	"context"

	"github.com/signalsfoundry/ran-scheduler/internal/logging"
	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

// DiscardObserver is notified when a process is cleared because its
// retransmission budget ran out. Implementations must not block; they run
// inside the slot path.
type DiscardObserver interface {
	HARQDiscarded(ue model.UEIndex, rnti model.RNTI, dir Direction, pid uint8)
}

// EntityOption configures a HARQ entity.
type EntityOption func(*Entity)

// WithLogger sets the logger used for discard diagnostics.
func WithLogger(log logging.Logger) EntityOption {
	return func(e *Entity) {
		if log != nil {
			e.log = log
		}
	}
}

// WithDiscardObserver registers a callback for discarded processes.
func WithDiscardObserver(obs DiscardObserver) EntityOption {
	return func(e *Entity) { e.observer = obs }
}

// Entity owns the DL and UL HARQ processes of one UE. Processes are
// created once and reused indefinitely. The entity is not safe for
// concurrent use; all mutation happens on the slot path of the owning
// cell.
type Entity struct {
	ue       model.UEIndex
	rnti     model.RNTI
	slotRx   slot.Point
	dl       []DLProcess
	ul       []ULProcess
	log      logging.Logger
	observer DiscardObserver
}

// NewEntity builds an entity with numProcs processes per direction.
func NewEntity(ue model.UEIndex, rnti model.RNTI, numProcs uint8, opts ...EntityOption) *Entity {
	e := &Entity{
		ue:   ue,
		rnti: rnti,
		dl:   make([]DLProcess, numProcs),
		ul:   make([]ULProcess, numProcs),
		log:  logging.Noop(),
	}
	for pid := range e.dl {
		e.dl[pid].pid = uint8(pid)
		e.ul[pid].pid = uint8(pid)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Entity) UEIndex() model.UEIndex { return e.ue }
func (e *Entity) RNTI() model.RNTI       { return e.rnti }
func (e *Entity) NumProcesses() uint8    { return uint8(len(e.dl)) }

// DL returns the downlink process with the given id, or nil if the id is
// out of range.
func (e *Entity) DL(pid uint8) *DLProcess {
	if int(pid) >= len(e.dl) {
		return nil
	}
	return &e.dl[pid]
}

// UL returns the uplink process with the given id, or nil if the id is
// out of range.
func (e *Entity) UL(pid uint8) *ULProcess {
	if int(pid) >= len(e.ul) {
		return nil
	}
	return &e.ul[pid]
}

// EmptyDL returns a free downlink process, or nil if all are in use.
func (e *Entity) EmptyDL() *DLProcess {
	for i := range e.dl {
		if e.dl[i].Empty() {
			return &e.dl[i]
		}
	}
	return nil
}

// EmptyUL returns a free uplink process, or nil if all are in use.
func (e *Entity) EmptyUL() *ULProcess {
	for i := range e.ul {
		if e.ul[i].Empty() {
			return &e.ul[i]
		}
	}
	return nil
}

// NewSlot advances every process of both directions to the given reception
// slot. A process that flips from occupied to empty as a direct result of
// this call ran out of retransmissions; the discard is logged and reported
// to the observer.
func (e *Entity) NewSlot(rx slot.Point) {
	e.slotRx = rx
	for i := range e.dl {
		p := &e.dl[i]
		wasEmpty := p.Empty()
		p.NewSlot(rx)
		if !wasEmpty && p.Empty() {
			e.discarded(DirectionDL, p.pid, p.MaxReTx())
		}
	}
	for i := range e.ul {
		p := &e.ul[i]
		wasEmpty := p.Empty()
		p.NewSlot(rx)
		if !wasEmpty && p.Empty() {
			e.discarded(DirectionUL, p.pid, p.MaxReTx())
		}
	}
}

func (e *Entity) discarded(dir Direction, pid uint8, maxReTx uint32) {
	e.log.Info(context.Background(), "discarding HARQ process: max retransmissions exceeded",
		logging.String("rnti", e.rnti.String()),
		logging.String("direction", dir.String()),
		logging.Int("pid", int(pid)),
		logging.Uint32("max_retx", maxReTx))
	if e.observer != nil {
		e.observer.HARQDiscarded(e.ue, e.rnti, dir, pid)
	}
}
