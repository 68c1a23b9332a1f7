package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/ran-scheduler/sched/harq"
)

func TestSchedCollectorRecordsSlotActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSchedCollector(reg)
	if err != nil {
		t.Fatalf("NewSchedCollector: %v", err)
	}

	collector.SlotProcessed(0, 120*time.Microsecond)
	collector.GrantsScheduled(0, 2, 1)
	collector.HARQDiscard(0, harq.DirectionDL)
	collector.EventDropped("unknown_ue")
	collector.EventRequeued()
	collector.SetActiveUEs(3)
	collector.SetPendingReTx(0, 1, 2)
	collector.RACHReceived(1)

	if got := testutil.ToFloat64(collector.Grants.WithLabelValues("0", "DL")); got != 2 {
		t.Fatalf("sched_grants_total{cell=0,direction=DL} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Grants.WithLabelValues("0", "UL")); got != 1 {
		t.Fatalf("sched_grants_total{cell=0,direction=UL} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.HARQDiscards.WithLabelValues("0", "DL")); got != 1 {
		t.Fatalf("sched_harq_discards_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.EventsDropped.WithLabelValues("unknown_ue")); got != 1 {
		t.Fatalf("sched_events_dropped_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.EventsRequeued); got != 1 {
		t.Fatalf("sched_events_requeued_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.ActiveUEs); got != 3 {
		t.Fatalf("sched_active_ues = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.PendingReTx.WithLabelValues("0", "UL")); got != 2 {
		t.Fatalf("sched_pending_retx{cell=0,direction=UL} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.RACHPreambles.WithLabelValues("1")); got != 1 {
		t.Fatalf("sched_rach_preambles_total{cell=1} = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "sched_slot_duration_seconds", map[string]string{
		"cell": "0",
	}); count != 1 {
		t.Fatalf("sched_slot_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestSchedCollectorToleratesSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSchedCollector(reg)
	if err != nil {
		t.Fatalf("NewSchedCollector (first): %v", err)
	}
	second, err := NewSchedCollector(reg)
	if err != nil {
		t.Fatalf("NewSchedCollector (second): %v", err)
	}

	first.RACHReceived(0)
	second.RACHReceived(0)

	if got := testutil.ToFloat64(second.RACHPreambles.WithLabelValues("0")); got != 2 {
		t.Fatalf("shared counter = %v, want 2 (collectors must share series)", got)
	}
}

func TestMetricsHandlerExposesSchedulerSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSchedCollector(reg)
	if err != nil {
		t.Fatalf("NewSchedCollector: %v", err)
	}
	collector.SlotProcessed(0, time.Millisecond)
	collector.GrantsScheduled(0, 4, 2)
	collector.SetActiveUEs(5)
	collector.SetPendingReTx(0, 1, 0)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"sched_slot_duration_seconds",
		"sched_grants_total",
		"sched_active_ues",
		"sched_pending_retx",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
