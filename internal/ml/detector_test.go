package ml

import (
	"context"
	"testing"

	"github.com/noctisids/noctis/internal/aggregator"
	"github.com/noctisids/noctis/internal/stats"
)

type fakeStore struct {
	untrained   []TrainingVector
	samples     []TrainingVector
	normalCount int
	allVectors  [][]float64
	meta        *ModelMeta
	alerts      []Alert
	scores      []scoreRow
	baselines   map[string]stats.Baseline
}

type scoreRow struct {
	srcIP                             string
	ts, mlScore, statScore, combined float64
	mlActive                          bool
	topFeatures                       []stats.FeatureZ
}

func (f *fakeStore) UntrainedVectors(ctx context.Context) ([]TrainingVector, error) {
	return f.untrained, nil
}

func (f *fakeStore) InsertTrainingSamples(ctx context.Context, vectors []TrainingVector) error {
	f.samples = append(f.samples, vectors...)
	f.normalCount += len(vectors)
	return nil
}

func (f *fakeStore) CountNormalTrainingSamples(ctx context.Context) (int, error) {
	return f.normalCount, nil
}

func (f *fakeStore) AllNormalTrainingVectors(ctx context.Context) ([][]float64, error) {
	return f.allVectors, nil
}

func (f *fakeStore) SaveModelMeta(ctx context.Context, meta ModelMeta) error {
	m := meta
	f.meta = &m
	return nil
}

func (f *fakeStore) GetModelMeta(ctx context.Context) (*ModelMeta, error) {
	return f.meta, nil
}

func (f *fakeStore) InsertMLAlert(ctx context.Context, a Alert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeStore) UpsertMLScore(ctx context.Context, srcIP string, ts, mlScore, statScore, combined float64, mlActive bool, topFeatures []stats.FeatureZ) error {
	f.scores = append(f.scores, scoreRow{srcIP, ts, mlScore, statScore, combined, mlActive, topFeatures})
	return nil
}

func (f *fakeStore) GetBaselines(ctx context.Context, srcIP string) (map[string]stats.Baseline, error) {
	return f.baselines, nil
}

func TestCollectInsertsUntrainedVectors(t *testing.T) {
	store := &fakeStore{untrained: []TrainingVector{
		{SrcIP: "10.0.0.5", WindowStart: 60, Vector: []float64{1, 2, 3, 4, 5}},
	}}
	d := NewDetector(store, t.TempDir()+"/model.gob")

	n, err := d.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if n != 1 || len(store.samples) != 1 {
		t.Errorf("expected one sample collected, got n=%d stored=%d", n, len(store.samples))
	}
}

func TestTrainReturnsInsufficientDataBelowMinTrain(t *testing.T) {
	store := &fakeStore{normalCount: MinTrain - 1}
	d := NewDetector(store, t.TempDir()+"/model.gob")

	result, err := d.Train(context.Background(), false)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if result.Status != "insufficient_data" {
		t.Errorf("expected insufficient_data, got %q", result.Status)
	}
}

func TestTrainFitsModelAboveMinTrain(t *testing.T) {
	var vectors [][]float64
	for i := 0; i < MinTrain+10; i++ {
		vectors = append(vectors, []float64{float64(i % 5), float64(i % 3), 1, 100, 50})
	}
	store := &fakeStore{normalCount: len(vectors), allVectors: vectors}
	d := NewDetector(store, t.TempDir()+"/model.gob")

	result, err := d.Train(context.Background(), false)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if result.Status != "trained" {
		t.Errorf("expected trained, got %q", result.Status)
	}
	if store.meta == nil || !store.meta.IsTrained {
		t.Errorf("expected model meta to be saved as trained")
	}
}

func TestTrainIsIdempotentWithoutForce(t *testing.T) {
	store := &fakeStore{normalCount: MinTrain + 1, meta: &ModelMeta{IsTrained: true, NSamples: 77}}
	d := NewDetector(store, t.TempDir()+"/model.gob")

	result, err := d.Train(context.Background(), false)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if result.Status != "trained" || result.NSamples != 77 {
		t.Errorf("expected idempotent result reusing prior NSamples, got %+v", result)
	}
	if len(store.allVectors) != 0 && store.meta.NSamples != 77 {
		t.Errorf("expected no retraining to have occurred")
	}
}

func TestInferWithoutTrainedModelUsesStatScoreOnly(t *testing.T) {
	store := &fakeStore{baselines: map[string]stats.Baseline{
		"connections_count": {Mean: 5, Std: 1, SampleCount: 20},
	}}
	d := NewDetector(store, t.TempDir()+"/model.gob")

	current := aggregator.MetricVector{ConnectionsCount: 50, UniquePorts: 2, UniqueDstIPs: 2, TotalBytes: 100, AvgPacketSize: 50}
	alert, err := d.Infer(context.Background(), "10.0.0.5", 1000, current)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(store.scores) != 1 {
		t.Fatalf("expected a score snapshot to be persisted unconditionally")
	}
	if store.scores[0].mlScore != 0 {
		t.Errorf("expected ml_score 0 with no trained model, got %v", store.scores[0].mlScore)
	}
	if alert != nil && alert.MLScore != 0 {
		t.Errorf("expected ml_score contribution to be zero pre-training")
	}
}

func TestInferSkipsAlertBelowFloor(t *testing.T) {
	store := &fakeStore{baselines: map[string]stats.Baseline{}}
	d := NewDetector(store, t.TempDir()+"/model.gob")

	current := aggregator.MetricVector{ConnectionsCount: 1, UniquePorts: 1, UniqueDstIPs: 1, TotalBytes: 10, AvgPacketSize: 10}
	alert, err := d.Infer(context.Background(), "10.0.0.5", 1000, current)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if alert != nil {
		t.Errorf("expected no alert for an unremarkable window with no baseline history, got %+v", alert)
	}
}

func TestSeverityForCombinedThresholds(t *testing.T) {
	cases := []struct {
		combined float64
		want     Severity
	}{
		{0.95, SeverityCritical},
		{0.8, SeverityHigh},
		{0.65, SeverityMedium},
		{0.3, SeverityLow},
	}
	for _, c := range cases {
		if got := severityForCombined(c.combined); got != c.want {
			t.Errorf("severityForCombined(%v) = %v, want %v", c.combined, got, c.want)
		}
	}
}
