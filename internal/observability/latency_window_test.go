package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := NewLatencyWindow(8)
	w.Observe("crisis_intervention", 1)
	w.Observe("crisis_intervention", 2)
	w.Observe("crisis_intervention", 3)
	w.ObserveIndicator("crisis_intervention.timeout")
	w.ObserveIndicator("crisis_intervention.timeout")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 3 || s.LastMS != 3 || s.P50MS != 2 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.P95MS <= 2 || s.P95MS > 3 {
		t.Fatalf("P95MS = %.2f, want (2,3]", s.P95MS)
	}
	if s.TargetP95MS != 5 {
		t.Fatalf("TargetP95MS = %.2f, want 5", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one with count 2", snap.Indicators)
	}
}

func TestLatencyWindowWrapsAtCapacity(t *testing.T) {
	w := NewLatencyWindow(4)
	for i := 1; i <= 10; i++ {
		w.Observe("abuse_detection", float64(i))
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", s.Samples)
	}
	if s.AvgMS != 8.5 {
		t.Fatalf("AvgMS = %.2f, want 8.5 (last four samples)", s.AvgMS)
	}

	w.Reset()
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) after Reset = %d, want 0", got)
	}
}

func TestMetricsObserveDetector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.ObserveDetector("abuse_detection", "ok", "", 2*time.Millisecond)
	m.ObserveDetector("crisis_intervention", "unavailable", "timeout", 2*time.Second)
	m.ObserveEvaluation("high", 3*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	seen := map[string]bool{}
	for _, f := range families {
		seen[f.GetName()] = true
	}
	for _, name := range []string{"test_detector_outcomes_total", "test_detector_latency_ms", "test_evaluations_total"} {
		if !seen[name] {
			t.Fatalf("metric %q not registered", name)
		}
	}

	snap := m.Window.Snapshot()
	var names []string
	for _, s := range snap.Stages {
		names = append(names, s.Stage)
	}
	if got := strings.Join(names, ","); got != "abuse_detection,crisis_intervention,evaluation_total" {
		t.Fatalf("stages = %q", got)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Name != "crisis_intervention.timeout" {
		t.Fatalf("Indicators = %+v", snap.Indicators)
	}
}
