package scenario

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/ran-scheduler/slot"
)

// Program schedules callbacks to run at specific slots. The sim runner
// registers the scenario's traffic script and feedback deliveries here and
// calls RunDue once per slot before driving the scheduler.
//
// All scheduled slots must share one numerology; slot.Point comparisons
// panic otherwise.
type Program struct {
	mu      sync.Mutex
	counter uint64
	events  []*programEvent // ordered by slot, earliest first
	index   map[string]*programEvent
}

type programEvent struct {
	id        string
	at        slot.Point
	f         func()
	cancelled bool
}

// NewProgram creates an empty program.
func NewProgram() *Program {
	return &Program{index: make(map[string]*programEvent)}
}

// Schedule registers a callback f to run at slot at. It returns an opaque
// event ID that can be used to cancel the event before it runs.
func (p *Program) Schedule(at slot.Point, f func()) (id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counter++
	id = fmt.Sprintf("ev-%d", p.counter)

	ev := &programEvent{id: id, at: at, f: f}
	p.insertLocked(ev)
	p.index[id] = ev
	return id
}

// insertLocked places an event into the slice keeping slot order. Events for
// the same slot run in the order they were scheduled.
func (p *Program) insertLocked(ev *programEvent) {
	idx := sort.Search(len(p.events), func(i int) bool {
		return p.events[i].at.After(ev.at)
	})
	p.events = append(p.events, nil)
	copy(p.events[idx+1:], p.events[idx:])
	p.events[idx] = ev
}

// Cancel drops a previously scheduled event. It is a no-op if the ID is
// unknown or the event already ran. Removal from the ordered slice is lazy;
// RunDue skips cancelled events.
func (p *Program) Cancel(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev, ok := p.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(p.index, id)
}

// Len returns the number of events still scheduled.
func (p *Program) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if !ev.cancelled {
			n++
		}
	}
	return n
}

// RunDue executes all events scheduled at or before now, in slot order.
// Callbacks run outside the lock, so they may schedule further events.
// Already-run events never run again.
func (p *Program) RunDue(now slot.Point) {
	for {
		ev := p.popDue(now)
		if ev == nil {
			return
		}
		if ev.f != nil {
			ev.f()
		}
	}
}

func (p *Program) popDue(now slot.Point) *programEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.events) > 0 {
		ev := p.events[0]
		if ev.cancelled {
			p.events = p.events[1:]
			continue
		}
		if ev.at.After(now) {
			return nil
		}
		p.events = p.events[1:]
		delete(p.index, ev.id)
		return ev
	}
	return nil
}
