package sched

import (
	"context"
	"sync"

	"github.com/signalsfoundry/ran-scheduler/internal/logging"
	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

// event is one unit of deferred work. Events bound to a UE index are
// resolved against the repository when drained; the callback receives the
// resolved UE, or nil for unbound events.
type event struct {
	ue   model.UEIndex
	name string
	fn   func(u *ue)
}

// eventList is a double-buffered queue. Producers append to the next
// buffer under the lock; the consumer swaps buffers once per slot and
// drains the swapped-out contents without holding it. Work enqueued while
// slot S drains is therefore seen no earlier than slot S+1.
type eventList struct {
	mu      sync.Mutex
	next    []event
	current []event
}

// push enqueues ev for the next drain.
func (l *eventList) push(ev event) {
	l.mu.Lock()
	l.next = append(l.next, ev)
	l.mu.Unlock()
}

// swap exchanges the buffers and returns the batch to drain, in enqueue
// order. The caller owns the returned slice until the next swap.
func (l *eventList) swap() []event {
	l.mu.Lock()
	l.next, l.current = l.current[:0], l.next
	l.mu.Unlock()
	return l.current
}

// eventManager routes deferred work onto the slot-processing path. Cell
// events live on the owning cellContext and drain at the start of that
// cell's slot; events that touch state shared across cells go through the
// common list, drained once per slot by the first cell indication to
// reach it.
type eventManager struct {
	sched  *Scheduler
	common eventList

	mu       sync.Mutex
	lastSlot slot.Point
}

func newEventManager(s *Scheduler) *eventManager {
	return &eventManager{sched: s}
}

// pushCommon enqueues an event onto the common list.
func (m *eventManager) pushCommon(ev event) { m.common.push(ev) }

// processCommonIfNewSlot drains the common list exactly once per slot,
// from the first cell indication to reach sl. Events bound to a UE with
// carrier aggregation are re-enqueued until every serving cell has reached
// the current or immediately preceding slot, so no carrier observes the
// effect mid-slot.
func (m *eventManager) processCommonIfNewSlot(sl slot.Point) {
	m.mu.Lock()
	if m.lastSlot.Valid() && m.lastSlot.Numerology() == sl.Numerology() && !sl.After(m.lastSlot) {
		m.mu.Unlock()
		return
	}
	m.lastSlot = sl
	m.mu.Unlock()

	evs := m.common.swap()
	for i := range evs {
		ev := &evs[i]
		if ev.ue == model.InvalidUEIndex {
			ev.fn(nil)
			continue
		}
		u := m.sched.repo.get(ev.ue)
		if u == nil {
			m.dropUnknownUE(ev)
			continue
		}
		if u.hasCA() && !m.carriersSynced(u, sl) {
			m.sched.log.Debug(context.Background(), "re-enqueueing event until carriers align",
				logging.String("event", ev.name),
				logging.Int("ue_index", int(ev.ue)))
			m.sched.metrics.EventRequeued()
			m.common.push(*ev)
			continue
		}
		ev.fn(u)
	}
}

// drainCell runs the cell-local events captured for this slot.
func (m *eventManager) drainCell(c *cellContext) {
	evs := c.events.swap()
	for i := range evs {
		ev := &evs[i]
		if ev.ue == model.InvalidUEIndex {
			ev.fn(nil)
			continue
		}
		u := m.sched.repo.get(ev.ue)
		if u == nil {
			m.dropUnknownUE(ev)
			continue
		}
		ev.fn(u)
	}
}

// carriersSynced reports whether every serving cell of u has processed
// the current or the immediately preceding slot. Cells serving an
// aggregated UE are driven from one execution context, so reading their
// slot cursors here is ordered.
func (m *eventManager) carriersSynced(u *ue, sl slot.Point) bool {
	for _, car := range u.carriers {
		cc := m.sched.cell(car.cell)
		if cc == nil {
			return false
		}
		last := cc.lastSlot
		if !last.Valid() || last.Numerology() != sl.Numerology() {
			return false
		}
		if d := sl.Sub(last); d < 0 || d > 1 {
			return false
		}
	}
	return true
}

func (m *eventManager) dropUnknownUE(ev *event) {
	m.sched.log.Warn(context.Background(), "dropping event for unknown UE",
		logging.String("event", ev.name),
		logging.Int("ue_index", int(ev.ue)))
	m.sched.metrics.EventDropped("unknown_ue")
}
