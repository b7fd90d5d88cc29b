// Package stats implements the per-host statistical baseline and z-score
// anomaly detector (C5).
package stats

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/noctisids/noctis/internal/aggregator"
)

const (
	// MinStd floors standard deviation to avoid divide-by-zero.
	MinStd = 1e-2
	// ZThresh is the default z-score alert threshold.
	ZThresh = 3.0
	// HistoryN is how many historical window values feed the rolling stat.
	HistoryN = 50
	// LearningWindow is the sample count under which all non-anomalous
	// samples are absorbed directly into the baseline.
	LearningWindow = 100
	// EWMAAlpha blends fresh rolling-window statistics into an established
	// baseline once learning mode ends.
	EWMAAlpha = 0.1
	// minHistoryForZ is the minimum historical sample count required before
	// a z-score may be computed at all.
	minHistoryForZ = 3
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Baseline is the rolling per-(src_ip, metric_name) statistic maintained by
// the detector.
type Baseline struct {
	SrcIP       string
	Metric      string
	Mean        float64
	Std         float64
	SampleCount int
	Min         float64
	Max         float64
	LastUpdated time.Time
}

// Alert is a StatAlert emitted when a metric deviates from its baseline.
type Alert struct {
	Timestamp   float64
	SrcIP       string
	Metric      string
	Current     float64
	Mean        float64
	Std         float64
	ZScore      float64
	Severity    Severity
	Description string
}

func severityForZ(z float64) Severity {
	switch {
	case z >= 5:
		return SeverityCritical
	case z >= 4:
		return SeverityHigh
	case z >= 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Store is the narrow persistence contract the detector needs.
type Store interface {
	RecentMetricValues(ctx context.Context, srcIP, metric string, limit int) ([]float64, error)
	GetBaseline(ctx context.Context, srcIP, metric string) (*Baseline, error)
	UpsertBaseline(ctx context.Context, b Baseline) error
	InsertStatAlert(ctx context.Context, a Alert) error
	HasSignatureAlertInWindow(ctx context.Context, srcIP string, windowStart, windowEnd int64) (bool, error)
}

// Cache is the fast-path mirror of the learning-mode sample counter,
// satisfied by store.Cache. The Store's Baseline.SampleCount is always
// authoritative; the cache is repopulated lazily from it on a miss, never
// the reverse.
type Cache interface {
	GetInt(ctx context.Context, key string) (int64, bool, error)
	SetInt(ctx context.Context, key string, value int64) error
	Incr(ctx context.Context, key string) (int64, error)
}

func learnKey(srcIP, metric string) string {
	return fmt.Sprintf("learn:%s:%s", srcIP, metric)
}

// Detector maintains baselines and evaluates closed windows against them.
type Detector struct {
	store    Store
	cache    Cache
	zThresh  float64
	learnMax int
	alpha    float64
}

func NewDetector(store Store) *Detector {
	return &Detector{store: store, zThresh: ZThresh, learnMax: LearningWindow, alpha: EWMAAlpha}
}

// WithZThreshold overrides the default z-score threshold (CLI --threshold).
func (d *Detector) WithZThreshold(z float64) *Detector {
	d.zThresh = z
	return d
}

// WithCache attaches the Redis learning-mode counter cache. Optional: with
// no cache, learning mode is decided from the Store's Baseline alone.
func (d *Detector) WithCache(c Cache) *Detector {
	d.cache = c
	return d
}

// learningSampleCount returns the fast-path sample count for srcIP/metric,
// falling back to and repopulating from baseline's authoritative count on a
// cache miss or cache failure.
func (d *Detector) learningSampleCount(ctx context.Context, srcIP, metric string, baseline *Baseline) int {
	authoritative := 0
	if baseline != nil {
		authoritative = baseline.SampleCount
	}
	if d.cache == nil {
		return authoritative
	}
	key := learnKey(srcIP, metric)
	if n, hit, err := d.cache.GetInt(ctx, key); err == nil && hit {
		return int(n)
	}
	if err := d.cache.SetInt(ctx, key, int64(authoritative)); err != nil {
		log.Printf("[STATS] WARN repopulating learn cache for %s failed: %v", key, err)
	}
	return authoritative
}

// Detect runs one stat-detection pass for a closed window, per §4.5. It
// emits zero or more StatAlerts and always attempts to refresh the host's
// baselines, except for metrics excluded by the anti-attack-training guard.
func (d *Detector) Detect(ctx context.Context, srcIP string, windowStart, windowEnd int64, ts float64, current aggregator.MetricVector) ([]Alert, error) {
	values := current.Values()
	hasSigAlert, err := d.store.HasSignatureAlertInWindow(ctx, srcIP, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	for _, metric := range aggregator.MetricNames {
		curVal := values[metric]

		history, err := d.store.RecentMetricValues(ctx, srcIP, metric, HistoryN)
		if err != nil {
			return alerts, err
		}

		if len(history) >= minHistoryForZ {
			mean, std := meanStd(history)
			if std < MinStd {
				std = MinStd
			}
			z := math.Abs(curVal-mean) / std
			if z >= d.zThresh {
				alerts = append(alerts, Alert{
					Timestamp:   ts,
					SrcIP:       srcIP,
					Metric:      metric,
					Current:     curVal,
					Mean:        mean,
					Std:         std,
					ZScore:      z,
					Severity:    severityForZ(z),
					Description: metricDescription(metric, z),
				})
			}
		}

		baseline, err := d.store.GetBaseline(ctx, srcIP, metric)
		if err != nil {
			return alerts, err
		}
		sampleCount := d.learningSampleCount(ctx, srcIP, metric, baseline)
		inLearningMode := sampleCount < d.learnMax

		if !inLearningMode && hasSigAlert {
			// Protection against training on attacks: a flagged sample is
			// never absorbed into an established baseline.
			continue
		}

		updated := d.nextBaseline(srcIP, metric, baseline, history, curVal, inLearningMode, ts)
		if err := d.store.UpsertBaseline(ctx, updated); err != nil {
			return alerts, err
		}
		if d.cache != nil {
			if _, err := d.cache.Incr(ctx, learnKey(srcIP, metric)); err != nil {
				log.Printf("[STATS] WARN incrementing learn cache for src_ip=%s metric=%s failed: %v", srcIP, metric, err)
			}
		}
	}

	for _, a := range alerts {
		if err := d.store.InsertStatAlert(ctx, a); err != nil {
			return alerts, err
		}
	}
	return alerts, nil
}

func (d *Detector) nextBaseline(srcIP, metric string, prev *Baseline, history []float64, current float64, learning bool, ts float64) Baseline {
	windowValues := append(append([]float64{}, history...), current)
	windowMean, windowStd := meanStd(windowValues)
	if windowStd < MinStd {
		windowStd = MinStd
	}

	b := Baseline{SrcIP: srcIP, Metric: metric, LastUpdated: time.Unix(int64(ts), 0).UTC()}
	if prev == nil {
		b.Mean = windowMean
		b.Std = windowStd
		b.SampleCount = len(windowValues)
		b.Min = minOf(windowValues)
		b.Max = maxOf(windowValues)
		return b
	}

	b.Min = math.Min(prev.Min, current)
	b.Max = math.Max(prev.Max, current)
	b.SampleCount = prev.SampleCount + 1

	if learning {
		b.Mean = windowMean
		b.Std = windowStd
		return b
	}

	b.Mean = d.alpha*windowMean + (1-d.alpha)*prev.Mean
	b.Std = d.alpha*windowStd + (1-d.alpha)*prev.Std
	if b.Std < MinStd {
		b.Std = MinStd
	}
	return b
}

func metricDescription(metric string, z float64) string {
	return fmt.Sprintf("%s deviated %.2f standard deviations from baseline", metric, z)
}

// meanStd computes the population mean and standard deviation of values.
func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
