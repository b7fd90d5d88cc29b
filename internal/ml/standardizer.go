package ml

import "math"

// Standardizer holds a per-column mean/std fitted over the training set,
// used to z-normalize feature vectors before they reach the forest.
type Standardizer struct {
	Mean []float64
	Std  []float64
}

// FitStandardizer computes the column-wise mean and population standard
// deviation of X.
func FitStandardizer(X [][]float64) Standardizer {
	if len(X) == 0 {
		return Standardizer{}
	}
	nCols := len(X[0])
	mean := make([]float64, nCols)
	for _, row := range X {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(X))
	}

	variance := make([]float64, nCols)
	for _, row := range X {
		for j, v := range row {
			d := v - mean[j]
			variance[j] += d * d
		}
	}
	std := make([]float64, nCols)
	for j := range variance {
		std[j] = math.Sqrt(variance[j] / float64(len(X)))
		if std[j] == 0 {
			std[j] = 1 // a constant column must not divide by zero
		}
	}
	return Standardizer{Mean: mean, Std: std}
}

// Transform z-normalizes x column-wise. Standardize(x) == 0 componentwise
// when x equals the training-set mean.
func (s Standardizer) Transform(x []float64) []float64 {
	if len(s.Mean) == 0 {
		return x
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Std[i]
	}
	return out
}

// SanitizeFeatures replaces NaN/+-Inf with 0, per §4.6.
func SanitizeFeatures(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = 0
			continue
		}
		out[i] = v
	}
	return out
}
