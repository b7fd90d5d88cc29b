// Package hybrid implements the fusion scorer (C7): it reads the other
// detection layers' recent output from the Store and combines them into one
// HybridVerdict per host per cycle. Per the peers-via-store design, it never
// calls into the rules/stats/ml detectors directly.
package hybrid

import (
	"context"
	"math"

	"github.com/noctisids/noctis/internal/rules"
	"github.com/noctisids/noctis/internal/stats"
)

const (
	sigAlertWindowSeconds = 120

	wSig  = 0.40
	wStat = 0.25
	wML   = 0.35

	sigTriggerFloor  = 0.25
	statTriggerFloor = 0.5
	mlTriggerFloor   = 0.5

	persistFloor = 0.25
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Confidence string

const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

var sigSeverityWeight = map[rules.Severity]float64{
	rules.SeverityCritical: 1.0,
	rules.SeverityHigh:     0.75,
	rules.SeverityMedium:   0.5,
	rules.SeverityLow:      0.25,
}

// MLScoreSnapshot is C6's most recent per-host score, as persisted by
// ml.Detector.Infer and read back by the Store's concrete implementation.
type MLScoreSnapshot struct {
	Timestamp   float64
	MLScore     float64
	StatScore   float64
	MLActive    bool
	TopFeatures []stats.FeatureZ
}

// Verdict is a HybridVerdict, persisted when Combined >= persistFloor.
type Verdict struct {
	Timestamp        float64
	SrcIP            string
	SigScore         float64
	StatScore        float64
	MLScore          float64
	Combined         float64
	Severity         Severity
	Confidence       Confidence
	TopFeatures      []stats.FeatureZ
	MatchedMessages  []string
}

// Store is the narrow persistence contract the hybrid scorer needs.
type Store interface {
	RecentSignatureAlerts(ctx context.Context, srcIP string, sinceTS float64) ([]rules.Alert, error)
	LatestMLScore(ctx context.Context, srcIP string) (*MLScoreSnapshot, error)
	HostsWithRecentWindow(ctx context.Context, sinceTS float64) ([]string, error)
	InsertHybridVerdict(ctx context.Context, v Verdict) error
}

// Publisher fans a persisted Verdict out to NATS JetStream, per §4.7.
type Publisher interface {
	PublishVerdict(ctx context.Context, v Verdict) error
}

// Scorer fuses the signature, statistical and ML layers per cycle.
type Scorer struct {
	store Store
	pub   Publisher
}

func NewScorer(store Store, pub Publisher) *Scorer {
	return &Scorer{store: store, pub: pub}
}

// RunCycle scores every host with a window in the last 300s, persisting and
// publishing a HybridVerdict for each whose combined score clears
// persistFloor, per §4.7.
func (s *Scorer) RunCycle(ctx context.Context, now float64) ([]Verdict, error) {
	hosts, err := s.store.HostsWithRecentWindow(ctx, now-300)
	if err != nil {
		return nil, err
	}

	var verdicts []Verdict
	for _, host := range hosts {
		v, err := s.scoreHost(ctx, host, now)
		if err != nil {
			return verdicts, err
		}
		if v == nil {
			continue
		}
		if err := s.store.InsertHybridVerdict(ctx, *v); err != nil {
			return verdicts, err
		}
		if s.pub != nil {
			if err := s.pub.PublishVerdict(ctx, *v); err != nil {
				continue
			}
		}
		verdicts = append(verdicts, *v)
	}
	return verdicts, nil
}

func (s *Scorer) scoreHost(ctx context.Context, srcIP string, now float64) (*Verdict, error) {
	sigAlerts, err := s.store.RecentSignatureAlerts(ctx, srcIP, now-sigAlertWindowSeconds)
	if err != nil {
		return nil, err
	}
	sigScore, messages := sigComponent(sigAlerts)

	mlSnapshot, err := s.store.LatestMLScore(ctx, srcIP)
	if err != nil {
		return nil, err
	}
	var statScore, mlScore float64
	var mlActive bool
	var topFeatures []stats.FeatureZ
	if mlSnapshot != nil {
		statScore = mlSnapshot.StatScore
		mlScore = mlSnapshot.MLScore
		mlActive = mlSnapshot.MLActive
		topFeatures = mlSnapshot.TopFeatures
	}

	combined, triggered := fuse(sigScore, statScore, mlScore, mlActive)
	if combined < persistFloor {
		return nil, nil
	}

	return &Verdict{
		Timestamp:       now,
		SrcIP:           srcIP,
		SigScore:        sigScore,
		StatScore:       statScore,
		MLScore:         mlScore,
		Combined:        combined,
		Severity:        severityForCombined(combined),
		Confidence:      confidenceForTriggered(triggered),
		TopFeatures:     topFeatures,
		MatchedMessages: messages,
	}, nil
}

// sigComponent implements §4.7's sig_score formula over a host's recent
// SignatureAlerts.
func sigComponent(alerts []rules.Alert) (float64, []string) {
	if len(alerts) == 0 {
		return 0, nil
	}
	var maxWeight float64
	messages := make([]string, 0, len(alerts))
	for _, a := range alerts {
		if w := sigSeverityWeight[a.Severity]; w > maxWeight {
			maxWeight = w
		}
		messages = append(messages, a.Msg)
	}
	countFactor := math.Min(1, float64(len(alerts))/5)
	score := math.Min(1, maxWeight*(0.5+0.5*countFactor))
	return score, messages
}

// fuse computes the weighted, consensus-boosted combined score and reports
// how many layers triggered, per §4.7. The ML layer drops out of the
// weighted sum entirely (rather than contributing a misleading zero) when
// no trained model is active; the remaining weights renormalize to 1, per
// the ModelError handling of §7.
func fuse(sigScore, statScore, mlScore float64, mlActive bool) (combined float64, triggered int) {
	totalWeight := wSig + wStat
	weighted := wSig*sigScore + wStat*statScore
	if mlActive {
		totalWeight += wML
		weighted += wML * mlScore
	}
	if totalWeight > 0 {
		combined = weighted / totalWeight
	}

	if sigScore >= sigTriggerFloor {
		triggered++
	}
	if statScore >= statTriggerFloor {
		triggered++
	}
	if mlActive && mlScore >= mlTriggerFloor {
		triggered++
	}

	switch {
	case triggered >= 3:
		combined *= 1.3
	case triggered >= 2:
		combined *= 1.15
	}
	if combined > 1 {
		combined = 1
	}
	if combined < 0 {
		combined = 0
	}
	return combined, triggered
}

func severityForCombined(c float64) Severity {
	switch {
	case c >= 0.85:
		return SeverityCritical
	case c >= 0.65:
		return SeverityHigh
	case c >= 0.45:
		return SeverityMedium
	case c >= 0.25:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

func confidenceForTriggered(n int) Confidence {
	switch {
	case n >= 3:
		return ConfidenceHigh
	case n == 2:
		return ConfidenceMedium
	case n == 1:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}
