package stats

import (
	"context"
	"testing"

	"github.com/noctisids/noctis/internal/aggregator"
)

type fakeStore struct {
	history   map[string][]float64
	baselines map[string]*Baseline
	alerts    []Alert
	sigAlert  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{history: map[string][]float64{}, baselines: map[string]*Baseline{}}
}

func key(srcIP, metric string) string { return srcIP + "|" + metric }

func (f *fakeStore) RecentMetricValues(ctx context.Context, srcIP, metric string, limit int) ([]float64, error) {
	vals := f.history[key(srcIP, metric)]
	if len(vals) > limit {
		vals = vals[len(vals)-limit:]
	}
	return vals, nil
}

func (f *fakeStore) GetBaseline(ctx context.Context, srcIP, metric string) (*Baseline, error) {
	return f.baselines[key(srcIP, metric)], nil
}

func (f *fakeStore) UpsertBaseline(ctx context.Context, b Baseline) error {
	cp := b
	f.baselines[key(b.SrcIP, b.Metric)] = &cp
	return nil
}

func (f *fakeStore) InsertStatAlert(ctx context.Context, a Alert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeStore) HasSignatureAlertInWindow(ctx context.Context, srcIP string, windowStart, windowEnd int64) (bool, error) {
	return f.sigAlert, nil
}

func TestColdStartNoAlert(t *testing.T) {
	store := newFakeStore()
	d := NewDetector(store)
	mv := aggregator.MetricVector{ConnectionsCount: 3, UniquePorts: 3, UniqueDstIPs: 1, TotalBytes: 300, AvgPacketSize: 100}
	alerts, err := d.Detect(context.Background(), "192.168.1.1", 0, 60, 0, mv)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts on cold start, got %d", len(alerts))
	}
}

func TestPortScanZScoreScenario(t *testing.T) {
	store := newFakeStore()
	// Seed baseline history: mean=17, with some spread, for unique_ports.
	hist := make([]float64, 0, 20)
	for i := 0; i < 20; i++ {
		hist = append(hist, 15+float64(i%5)) // 15..19, mean ~17, small std
	}
	store.history[key("192.168.1.10", "unique_ports")] = hist

	d := NewDetector(store)
	mv := aggregator.MetricVector{ConnectionsCount: 1000, UniquePorts: 1000, UniqueDstIPs: 1, TotalBytes: 64000, AvgPacketSize: 64}
	alerts, err := d.Detect(context.Background(), "192.168.1.10", 0, 60, 0, mv)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	found := false
	for _, a := range alerts {
		if a.Metric == "unique_ports" {
			found = true
			if a.Severity != SeverityCritical {
				t.Errorf("expected critical severity for extreme z, got %s", a.Severity)
			}
		}
	}
	if !found {
		t.Errorf("expected a StatAlert for unique_ports")
	}
}

func TestLearningModeAbsorbsUntilLearningWindow(t *testing.T) {
	store := newFakeStore()
	d := NewDetector(store)
	ctx := context.Background()

	// Drive LearningWindow+5 cycles of benign, steady traffic.
	for i := 0; i < LearningWindow+5; i++ {
		mv := aggregator.MetricVector{ConnectionsCount: 10, UniquePorts: 2, UniqueDstIPs: 1, TotalBytes: 1000, AvgPacketSize: 100}
		if _, err := d.Detect(ctx, "10.0.0.1", int64(i*60), int64(i*60+60), float64(i*60), mv); err != nil {
			t.Fatalf("detect cycle %d: %v", i, err)
		}
	}
	b := store.baselines[key("10.0.0.1", "connections_count")]
	if b == nil {
		t.Fatalf("expected baseline to exist")
	}
	if b.SampleCount < LearningWindow {
		t.Errorf("expected sample_count >= LearningWindow after %d cycles, got %d", LearningWindow+5, b.SampleCount)
	}
}

func TestProtectionAgainstTrainingOnAttacks(t *testing.T) {
	store := newFakeStore()
	store.sigAlert = true
	d := NewDetector(store)
	ctx := context.Background()

	// Push the baseline out of learning mode first (no sig alert yet).
	for i := 0; i < LearningWindow+1; i++ {
		store.sigAlert = false
		mv := aggregator.MetricVector{ConnectionsCount: 10, UniquePorts: 2, UniqueDstIPs: 1, TotalBytes: 1000, AvgPacketSize: 100}
		if _, err := d.Detect(ctx, "10.0.0.2", int64(i*60), int64(i*60+60), float64(i*60), mv); err != nil {
			t.Fatalf("detect: %v", err)
		}
	}
	before := *store.baselines[key("10.0.0.2", "connections_count")]

	store.sigAlert = true
	attackMV := aggregator.MetricVector{ConnectionsCount: 9999, UniquePorts: 500, UniqueDstIPs: 1, TotalBytes: 99990, AvgPacketSize: 10}
	if _, err := d.Detect(ctx, "10.0.0.2", 999999, 1000059, 999999, attackMV); err != nil {
		t.Fatalf("detect attack sample: %v", err)
	}
	after := store.baselines[key("10.0.0.2", "connections_count")]
	if after.Mean != before.Mean || after.SampleCount != before.SampleCount {
		t.Errorf("baseline must not absorb a sample flagged by a concurrent signature alert once out of learning mode")
	}
}

func TestBaselineInvariants(t *testing.T) {
	store := newFakeStore()
	d := NewDetector(store)
	ctx := context.Background()
	mv := aggregator.MetricVector{ConnectionsCount: 5, UniquePorts: 2, UniqueDstIPs: 1, TotalBytes: 500, AvgPacketSize: 100}
	if _, err := d.Detect(ctx, "1.2.3.4", 0, 60, 0, mv); err != nil {
		t.Fatalf("detect: %v", err)
	}
	for _, b := range store.baselines {
		if b.SampleCount < 0 {
			t.Errorf("sample_count must be >= 0")
		}
		if b.Std < MinStd {
			t.Errorf("std must be >= MinStd, got %v", b.Std)
		}
	}
}
