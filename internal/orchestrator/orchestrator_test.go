package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/noctisids/noctis/internal/aggregator"
	"github.com/noctisids/noctis/internal/event"
	"github.com/noctisids/noctis/internal/hybrid"
	"github.com/noctisids/noctis/internal/ml"
	"github.com/noctisids/noctis/internal/rules"
	"github.com/noctisids/noctis/internal/stats"
)

type fakeSource struct {
	events []event.PacketEvent
}

func (f *fakeSource) Events(ctx context.Context) (<-chan event.PacketEvent, <-chan error) {
	out := make(chan event.PacketEvent, len(f.events))
	errs := make(chan error)
	for _, e := range f.events {
		out <- e
	}
	close(out)
	close(errs)
	return out, errs
}

type fakeWindowReader struct{}

func (fakeWindowReader) RecentWindows(ctx context.Context, sinceTS float64) ([]aggregator.Window, error) {
	return nil, nil
}

type fakeSigSink struct{}

func (fakeSigSink) InsertSignatureAlert(ctx context.Context, a rules.Alert) error { return nil }

type fakeStatStore struct{}

func (fakeStatStore) RecentMetricValues(ctx context.Context, srcIP, metric string, limit int) ([]float64, error) {
	return nil, nil
}
func (fakeStatStore) GetBaseline(ctx context.Context, srcIP, metric string) (*stats.Baseline, error) {
	return nil, nil
}
func (fakeStatStore) UpsertBaseline(ctx context.Context, b stats.Baseline) error { return nil }
func (fakeStatStore) InsertStatAlert(ctx context.Context, a stats.Alert) error   { return nil }
func (fakeStatStore) HasSignatureAlertInWindow(ctx context.Context, srcIP string, windowStart, windowEnd int64) (bool, error) {
	return false, nil
}

type fakeMLStore struct{}

func (fakeMLStore) UntrainedVectors(ctx context.Context) ([]ml.TrainingVector, error) { return nil, nil }
func (fakeMLStore) InsertTrainingSamples(ctx context.Context, vectors []ml.TrainingVector) error {
	return nil
}
func (fakeMLStore) CountNormalTrainingSamples(ctx context.Context) (int, error) { return 0, nil }
func (fakeMLStore) AllNormalTrainingVectors(ctx context.Context) ([][]float64, error) {
	return nil, nil
}
func (fakeMLStore) SaveModelMeta(ctx context.Context, meta ml.ModelMeta) error { return nil }
func (fakeMLStore) GetModelMeta(ctx context.Context) (*ml.ModelMeta, error)   { return nil, nil }
func (fakeMLStore) InsertMLAlert(ctx context.Context, a ml.Alert) error       { return nil }
func (fakeMLStore) UpsertMLScore(ctx context.Context, srcIP string, ts, mlScore, statScore, combined float64, mlActive bool, topFeatures []stats.FeatureZ) error {
	return nil
}
func (fakeMLStore) GetBaselines(ctx context.Context, srcIP string) (map[string]stats.Baseline, error) {
	return nil, nil
}

type fakeHybridStore struct{}

func (fakeHybridStore) RecentSignatureAlerts(ctx context.Context, srcIP string, sinceTS float64) ([]rules.Alert, error) {
	return nil, nil
}
func (fakeHybridStore) LatestMLScore(ctx context.Context, srcIP string) (*hybrid.MLScoreSnapshot, error) {
	return nil, nil
}
func (fakeHybridStore) HostsWithRecentWindow(ctx context.Context, sinceTS float64) ([]string, error) {
	return nil, nil
}
func (fakeHybridStore) InsertHybridVerdict(ctx context.Context, v hybrid.Verdict) error { return nil }

func TestRunFlushesOpenWindowsOnShutdown(t *testing.T) {
	port := uint16(80)
	src := &fakeSource{events: []event.PacketEvent{
		event.New(1000, "10.0.0.5", "93.184.216.34", nil, &port, event.ProtoTCP, 500),
	}}
	var flushed bool
	agg := aggregator.New(60, sinkFunc(func(ctx context.Context, w aggregator.Window) error {
		flushed = true
		return nil
	}))

	matcher := rules.NewMatcher(fakeSigSink{})
	statDet := stats.NewDetector(fakeStatStore{})
	mlDet := ml.NewDetector(fakeMLStore{}, t.TempDir()+"/model.gob")
	scorer := hybrid.NewScorer(fakeHybridStore{}, nil)

	o := New(Config{CycleInterval: time.Hour}, src, agg, matcher, fakeWindowReader{}, statDet, mlDet, scorer)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !flushed {
		t.Errorf("expected the open window to be flushed on shutdown")
	}
}

type sinkFunc func(ctx context.Context, w aggregator.Window) error

func (f sinkFunc) UpsertWindow(ctx context.Context, w aggregator.Window) error { return f(ctx, w) }
