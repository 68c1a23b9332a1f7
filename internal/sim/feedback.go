package sim

import (
	"math/rand"

	"github.com/signalsfoundry/ran-scheduler/internal/scenario"
	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/sched"
)

// ulCRCDelaySlots models the decode latency of an uplink transport
// block: the CRC result reaches the scheduler this many slots after the
// granted slot. It must stay below the scheduler's reception delay or
// the process times out before the result arrives.
const ulCRCDelaySlots = 2

// feedbackLink closes the radio loop: every grant in a slot result
// produces a HARQ-ACK or CRC indication a fixed delay later, failed with
// the scenario's error probability.
type feedbackLink struct {
	sched   *sched.Scheduler
	program *scenario.Program
	rng     *rand.Rand
	dlErr   float64
	ulErr   float64
	k1      int
}

func newFeedbackLink(s *sched.Scheduler, program *scenario.Program, rng *rand.Rand, tr scenario.Traffic) *feedbackLink {
	return &feedbackLink{
		sched:   s,
		program: program,
		rng:     rng,
		dlErr:   tr.DLErrorRate,
		ulErr:   tr.ULErrorRate,
		k1:      int(s.Config().K1),
	}
}

// observe queues the feedback for every grant in a slot result. The
// result storage is reused by the scheduler, so the indication values are
// built now rather than captured.
func (l *feedbackLink) observe(res *model.SchedResult) {
	for i := range res.DLGrants {
		g := &res.DLGrants[i]
		ind := model.DLHARQACKIndication{
			UEIndex:   g.UEIndex,
			CellIndex: res.CellIndex,
			PID:       g.DCI.PID,
			ACK:       l.rng.Float64() >= l.dlErr,
		}
		l.program.Schedule(res.Slot.Add(l.k1), func() { l.sched.HandleDLHARQACKIndication(ind) })
	}
	for i := range res.ULGrants {
		g := &res.ULGrants[i]
		ind := model.ULCRCIndication{
			UEIndex:   g.UEIndex,
			CellIndex: res.CellIndex,
			PID:       g.DCI.PID,
			OK:        l.rng.Float64() >= l.ulErr,
		}
		l.program.Schedule(res.Slot.Add(ulCRCDelaySlots), func() { l.sched.HandleULCRCIndication(ind) })
	}
}
