package stats

import (
	"math"

	"github.com/noctisids/noctis/internal/aggregator"
)

// FeatureZ is the per-metric z-score of a window against its baseline, used
// by both the ML detector and the hybrid scorer (§4.6, §4.7).
type FeatureZ struct {
	Metric  string
	Current float64
	Mean    float64
	Std     float64
	Z       float64
}

// ComputeZs scores every metric of current against the supplied baselines.
// A metric with no baseline yet contributes a zero z-score, since there is
// no established history to deviate from.
func ComputeZs(current aggregator.MetricVector, baselines map[string]Baseline) []FeatureZ {
	values := current.Values()
	out := make([]FeatureZ, 0, len(aggregator.MetricNames))
	for _, metric := range aggregator.MetricNames {
		cur := values[metric]
		b, ok := baselines[metric]
		if !ok || b.SampleCount == 0 {
			out = append(out, FeatureZ{Metric: metric, Current: cur})
			continue
		}
		std := b.Std
		if std < MinStd {
			std = MinStd
		}
		out = append(out, FeatureZ{
			Metric:  metric,
			Current: cur,
			Mean:    b.Mean,
			Std:     std,
			Z:       math.Abs(cur-b.Mean) / std,
		})
	}
	return out
}

// MaxZ returns the feature with the highest z-score, or the zero value if
// zs is empty.
func MaxZ(zs []FeatureZ) FeatureZ {
	var max FeatureZ
	for _, z := range zs {
		if z.Z > max.Z {
			max = z
		}
	}
	return max
}

// TopN returns the n features with the highest z-score, descending.
func TopN(zs []FeatureZ, n int) []FeatureZ {
	sorted := append([]FeatureZ{}, zs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Z > sorted[j-1].Z; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
