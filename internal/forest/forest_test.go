package forest

import (
	"math/rand"
	"testing"
)

func TestAnomalousPointScoresLowerThanNormal(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var X [][]float64
	for i := 0; i < 200; i++ {
		X = append(X, []float64{10 + rng.Float64()*2, 20 + rng.Float64()*2})
	}
	f := Fit(X, 100, 42)

	normalScore := f.Score([]float64{11, 21})
	anomalyScore := f.Score([]float64{500, 500})

	if anomalyScore >= normalScore {
		t.Errorf("expected anomaly decision score (%v) to be lower than normal (%v)", anomalyScore, normalScore)
	}
}

func TestUntrainedForestScoresZero(t *testing.T) {
	var f *Forest
	if f.Score([]float64{1, 2}) != 0 {
		t.Errorf("nil forest must score 0")
	}
	empty := &Forest{}
	if empty.Score([]float64{1, 2}) != 0 {
		t.Errorf("empty forest must score 0")
	}
	if empty.Trained() {
		t.Errorf("empty forest must report Trained() == false")
	}
}

func TestFitIsDeterministicForFixedSeed(t *testing.T) {
	var X [][]float64
	for i := 0; i < 100; i++ {
		X = append(X, []float64{float64(i), float64(i * 2)})
	}
	f1 := Fit(X, 20, 7)
	f2 := Fit(X, 20, 7)

	point := []float64{42, 84}
	if f1.Score(point) != f2.Score(point) {
		t.Errorf("same seed must produce deterministic scores: %v vs %v", f1.Score(point), f2.Score(point))
	}
}
