// Package ml implements the Isolation Forest anomaly detector (C6): a
// standardizer plus a forest.Forest, trained from accumulated window
// metrics and applied per scoring cycle.
package ml

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/noctisids/noctis/internal/aggregator"
	"github.com/noctisids/noctis/internal/forest"
	"github.com/noctisids/noctis/internal/stats"
)

const (
	MinTrain          = 50
	NEstimators       = 100
	Contamination     = 0.05 // expected anomaly fraction; informational, forest.Fit has no contamination knob
	DeterministicSeed = 42
	Alpha             = 0.4 // combined = alpha*stat_score + (1-alpha)*ml_score
	AlertFloor        = 0.5
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func severityForCombined(c float64) Severity {
	switch {
	case c >= 0.9:
		return SeverityCritical
	case c >= 0.75:
		return SeverityHigh
	case c >= 0.6:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// TrainingVector is a window's metric vector not yet copied into the
// training table.
type TrainingVector struct {
	SrcIP       string
	WindowStart int64
	Vector      []float64
}

// ModelMeta records the Store's view of the active model.
type ModelMeta struct {
	Path      string
	TrainedAt time.Time
	NSamples  int
	IsTrained bool
}

// Alert is an MLAlert emitted when the stat/ML hybrid crosses AlertFloor.
type Alert struct {
	Timestamp     float64
	SrcIP         string
	MLScore       float64
	StatScore     float64
	CombinedScore float64
	Severity      Severity
	Description   string
	TopFeatures   []stats.FeatureZ
}

// TrainResult reports the outcome of a Train call.
type TrainResult struct {
	Status   string // "insufficient_data" | "trained"
	NSamples int
}

// Store is the narrow persistence contract the ML detector needs.
type Store interface {
	UntrainedVectors(ctx context.Context) ([]TrainingVector, error)
	InsertTrainingSamples(ctx context.Context, vectors []TrainingVector) error
	CountNormalTrainingSamples(ctx context.Context) (int, error)
	AllNormalTrainingVectors(ctx context.Context) ([][]float64, error)
	SaveModelMeta(ctx context.Context, meta ModelMeta) error
	GetModelMeta(ctx context.Context) (*ModelMeta, error)
	InsertMLAlert(ctx context.Context, a Alert) error
	UpsertMLScore(ctx context.Context, srcIP string, ts, mlScore, statScore, combined float64, mlActive bool, topFeatures []stats.FeatureZ) error
	GetBaselines(ctx context.Context, srcIP string) (map[string]stats.Baseline, error)
}

// Detector trains and applies the Isolation Forest. The active model
// artifact is swapped atomically after retraining so in-flight inference
// calls keep using the prior model until they complete, per §5.
type Detector struct {
	store     Store
	modelPath string
	zThresh   float64
	model     atomic.Pointer[Artifact]
}

func NewDetector(store Store, modelPath string) *Detector {
	return &Detector{store: store, modelPath: modelPath, zThresh: stats.ZThresh}
}

// WithZThreshold overrides the default z threshold used in stat_score.
func (d *Detector) WithZThreshold(z float64) *Detector {
	d.zThresh = z
	return d
}

// LoadModel loads a previously trained artifact from disk into memory, for
// orchestrator startup.
func (d *Detector) LoadModel() error {
	artifact, err := LoadArtifact(d.modelPath)
	if err != nil {
		return err
	}
	d.model.Store(artifact)
	return nil
}

// Collect copies every window not yet present in the training table into it
// as an is_normal=1 TrainingSample, per §4.6.
func (d *Detector) Collect(ctx context.Context) (int, error) {
	vectors, err := d.store.UntrainedVectors(ctx)
	if err != nil {
		return 0, err
	}
	if len(vectors) == 0 {
		return 0, nil
	}
	if err := d.store.InsertTrainingSamples(ctx, vectors); err != nil {
		return 0, err
	}
	return len(vectors), nil
}

// Train fits a fresh standardizer and Isolation Forest over every
// is_normal=1 training sample, per §4.6. When a model is already trained,
// Train is a no-op unless force is set.
func (d *Detector) Train(ctx context.Context, force bool) (TrainResult, error) {
	count, err := d.store.CountNormalTrainingSamples(ctx)
	if err != nil {
		return TrainResult{}, err
	}
	if count < MinTrain {
		return TrainResult{Status: "insufficient_data"}, nil
	}

	meta, err := d.store.GetModelMeta(ctx)
	if err != nil {
		return TrainResult{}, err
	}
	if meta != nil && meta.IsTrained && !force {
		return TrainResult{Status: "trained", NSamples: meta.NSamples}, nil
	}

	rawVectors, err := d.store.AllNormalTrainingVectors(ctx)
	if err != nil {
		return TrainResult{}, err
	}
	X := make([][]float64, len(rawVectors))
	for i, v := range rawVectors {
		X[i] = SanitizeFeatures(v)
	}

	standardizer := FitStandardizer(X)
	standardizedX := make([][]float64, len(X))
	for i, row := range X {
		standardizedX[i] = standardizer.Transform(row)
	}

	f := forest.Fit(standardizedX, NEstimators, DeterministicSeed)
	trainedAt := time.Now().UTC()
	artifact := Artifact{
		Forest:       f,
		Standardizer: standardizer,
		FeatureNames: aggregator.MetricNames,
		TrainedAt:    trainedAt,
		NSamples:     len(X),
	}
	if err := SaveArtifact(d.modelPath, artifact); err != nil {
		return TrainResult{}, err
	}
	if err := d.store.SaveModelMeta(ctx, ModelMeta{Path: d.modelPath, TrainedAt: trainedAt, NSamples: len(X), IsTrained: true}); err != nil {
		return TrainResult{}, err
	}
	d.model.Store(&artifact)

	return TrainResult{Status: "trained", NSamples: len(X)}, nil
}

// Score computes ml_score, stat_score and the top features for one host's
// current window, per §4.6 steps 1-2; Infer derives combined from them and
// applies the alert threshold. The
// hybrid scorer (C7) reads the persisted result via the Store rather than
// calling this directly, per the peers-via-store design note; Infer is the
// only caller that invokes it in-process, immediately persisting its
// result as a score snapshot.
func (d *Detector) Score(ctx context.Context, srcIP string, current aggregator.MetricVector) (mlScore, statScore float64, topFeatures []stats.FeatureZ, err error) {
	baselines, err := d.store.GetBaselines(ctx, srcIP)
	if err != nil {
		return 0, 0, nil, err
	}
	zs := stats.ComputeZs(current, baselines)
	maxZ := stats.MaxZ(zs)
	statScore = sigmoid(maxZ.Z - d.zThresh)
	topFeatures = stats.TopN(zs, 3)

	artifact := d.model.Load()
	if artifact == nil || !artifact.Forest.Trained() {
		return 0, statScore, topFeatures, nil
	}
	x := SanitizeFeatures(current.Vector())
	xs := artifact.Standardizer.Transform(x)
	decision := artifact.Forest.Score(xs)
	mlScore = sigmoid(-5 * decision)
	return mlScore, statScore, topFeatures, nil
}

// Infer runs one inference pass for srcIP's current window: scores it,
// persists the score snapshot unconditionally, and additionally emits and
// persists an MLAlert when the combined score crosses AlertFloor, per
// §4.6 step 4.
func (d *Detector) Infer(ctx context.Context, srcIP string, ts float64, current aggregator.MetricVector) (*Alert, error) {
	mlScore, statScore, topFeatures, err := d.Score(ctx, srcIP, current)
	if err != nil {
		return nil, err
	}

	trained := d.model.Load() != nil && d.model.Load().Forest.Trained()
	combined := statScore
	if trained {
		combined = Alpha*statScore + (1-Alpha)*mlScore
	}

	if err := d.store.UpsertMLScore(ctx, srcIP, ts, mlScore, statScore, combined, trained, topFeatures); err != nil {
		return nil, err
	}

	if combined < AlertFloor {
		return nil, nil
	}

	alert := &Alert{
		Timestamp:     ts,
		SrcIP:         srcIP,
		MLScore:       mlScore,
		StatScore:     statScore,
		CombinedScore: combined,
		Severity:      severityForCombined(combined),
		Description:   "ML/statistical hybrid anomaly score exceeded alert floor",
		TopFeatures:   topFeatures,
	}
	if err := d.store.InsertMLAlert(ctx, *alert); err != nil {
		return nil, err
	}
	return alert, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
