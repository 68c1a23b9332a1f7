package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/sched/harq"
)

// SchedCollector bundles Prometheus metrics for the scheduler core. It
// satisfies the sched.MetricsRecorder interface so the scheduler drives
// the series directly from its slot path and event queues.
type SchedCollector struct {
	gatherer prometheus.Gatherer

	SlotDurations  *prometheus.HistogramVec
	Grants         *prometheus.CounterVec
	HARQDiscards   *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	EventsRequeued prometheus.Counter
	ActiveUEs      prometheus.Gauge
	PendingReTx    *prometheus.GaugeVec
	RACHPreambles  *prometheus.CounterVec
}

// NewSchedCollector registers scheduler Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewSchedCollector(reg prometheus.Registerer) (*SchedCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sched_slot_duration_seconds",
		Help:    "Processing latency of one slot indication, labeled by cell.",
		Buckets: []float64{0.000005, 0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005},
	}, []string{"cell"})
	durations, err := registerHistogramVec(reg, durations, "sched_slot_duration_seconds")
	if err != nil {
		return nil, err
	}

	grants := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sched_grants_total",
		Help: "Total number of scheduled grants, labeled by cell and direction.",
	}, []string{"cell", "direction"})
	grants, err = registerCounterVec(reg, grants, "sched_grants_total")
	if err != nil {
		return nil, err
	}

	discards := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sched_harq_discards_total",
		Help: "HARQ processes emptied after exhausting their retransmission budget.",
	}, []string{"cell", "direction"})
	discards, err = registerCounterVec(reg, discards, "sched_harq_discards_total")
	if err != nil {
		return nil, err
	}

	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sched_events_dropped_total",
		Help: "Scheduler events and indications discarded before applying, labeled by reason.",
	}, []string{"reason"})
	dropped, err = registerCounterVec(reg, dropped, "sched_events_dropped_total")
	if err != nil {
		return nil, err
	}

	requeued, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sched_events_requeued_total",
		Help: "Events deferred because the carriers of a multi-carrier UE had not yet aligned on the slot.",
	}), "sched_events_requeued_total")
	if err != nil {
		return nil, err
	}

	activeUEs, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sched_active_ues",
		Help: "Current number of configured UEs.",
	}), "sched_active_ues")
	if err != nil {
		return nil, err
	}

	pending := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sched_pending_retx",
		Help: "HARQ processes awaiting a retransmission grant, labeled by cell and direction.",
	}, []string{"cell", "direction"})
	pending, err = registerGaugeVec(reg, pending, "sched_pending_retx")
	if err != nil {
		return nil, err
	}

	rach := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sched_rach_preambles_total",
		Help: "RACH preambles delivered to the scheduler, labeled by cell.",
	}, []string{"cell"})
	rach, err = registerCounterVec(reg, rach, "sched_rach_preambles_total")
	if err != nil {
		return nil, err
	}

	return &SchedCollector{
		gatherer:       gatherer,
		SlotDurations:  durations,
		Grants:         grants,
		HARQDiscards:   discards,
		EventsDropped:  dropped,
		EventsRequeued: requeued,
		ActiveUEs:      activeUEs,
		PendingReTx:    pending,
		RACHPreambles:  rach,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SchedCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SlotProcessed records the processing latency of one slot indication.
func (c *SchedCollector) SlotProcessed(cell model.CellIndex, elapsed time.Duration) {
	if c == nil || c.SlotDurations == nil {
		return
	}
	c.SlotDurations.WithLabelValues(cellLabel(cell)).Observe(elapsed.Seconds())
}

// GrantsScheduled adds the grant counts of one slot result.
func (c *SchedCollector) GrantsScheduled(cell model.CellIndex, dl, ul int) {
	if c == nil || c.Grants == nil {
		return
	}
	c.Grants.WithLabelValues(cellLabel(cell), "DL").Add(float64(dl))
	c.Grants.WithLabelValues(cellLabel(cell), "UL").Add(float64(ul))
}

// HARQDiscard counts a HARQ process dropped after its last retransmission.
func (c *SchedCollector) HARQDiscard(cell model.CellIndex, dir harq.Direction) {
	if c == nil || c.HARQDiscards == nil {
		return
	}
	c.HARQDiscards.WithLabelValues(cellLabel(cell), dir.String()).Inc()
}

// EventDropped counts an event or indication discarded before applying.
func (c *SchedCollector) EventDropped(reason string) {
	if c == nil || c.EventsDropped == nil {
		return
	}
	c.EventsDropped.WithLabelValues(reason).Inc()
}

// EventRequeued counts an event deferred until carrier slots align.
func (c *SchedCollector) EventRequeued() {
	if c == nil || c.EventsRequeued == nil {
		return
	}
	c.EventsRequeued.Inc()
}

// SetActiveUEs updates the configured UE gauge.
func (c *SchedCollector) SetActiveUEs(n int) {
	if c == nil || c.ActiveUEs == nil {
		return
	}
	c.ActiveUEs.Set(float64(n))
}

// SetPendingReTx updates the pending retransmission gauges of one cell.
func (c *SchedCollector) SetPendingReTx(cell model.CellIndex, dl, ul int) {
	if c == nil || c.PendingReTx == nil {
		return
	}
	c.PendingReTx.WithLabelValues(cellLabel(cell), "DL").Set(float64(dl))
	c.PendingReTx.WithLabelValues(cellLabel(cell), "UL").Set(float64(ul))
}

// RACHReceived counts a RACH preamble delivered to a cell.
func (c *SchedCollector) RACHReceived(cell model.CellIndex) {
	if c == nil || c.RACHPreambles == nil {
		return
	}
	c.RACHPreambles.WithLabelValues(cellLabel(cell)).Inc()
}

func cellLabel(cell model.CellIndex) string {
	return strconv.FormatUint(uint64(cell), 10)
}
